package database

import (
	"fmt"

	"github.com/zavolanlab/krini/config"
)

func DaoFactory(daoType string, conf config.Database) (Dao, error) {
	switch daoType {
	case "psql":
		dao, err := NewPSQLDao(conf)
		if err != nil {
			return nil, err
		}
		return dao, nil

	default:
		return nil, fmt.Errorf("there is no current support for the daotype %s, please select a different supported daotype", daoType)
	}
}
