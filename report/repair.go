package report

import (
	"os"

	"github.com/zavolanlab/krini/descriptor"
	"github.com/zavolanlab/krini/taskerr"
)

// RepairOutputs makes sure every declared output exists after the run.
// Missing output files are created empty and missing output directories
// are created. A directory the tool had to fill must still be there.
func RepairOutputs(task *descriptor.Task) error {
	for _, port := range task.OutputNames() {
		path := task.Outputs[port]
		_, err := os.Stat(path)
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			return taskerr.Wrap(taskerr.OutputRepairFailed, port, err)
		}
		switch descriptor.KindOf(port) {
		case descriptor.OutFile:
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
			if err != nil {
				return taskerr.Wrap(taskerr.OutputRepairFailed, port, err)
			}
			if err = f.Close(); err != nil {
				return taskerr.Wrap(taskerr.OutputRepairFailed, port, err)
			}
		case descriptor.OutDir:
			if err := os.Mkdir(path, 0755); err != nil {
				return taskerr.Wrap(taskerr.OutputRepairFailed, port, err)
			}
		case descriptor.OutDirMake:
			return taskerr.New(taskerr.OutputRepairFailed, port, "output directory %v disappeared during the run", path)
		default:
			return taskerr.New(taskerr.OutputRepairFailed, port, "output port has an unknown prefix")
		}
	}
	return nil
}
