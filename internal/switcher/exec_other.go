//go:build !unix

package switcher

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcAttr(cmd *exec.Cmd) {}

func interruptProcess(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func killProcess(p *os.Process) error {
	return p.Kill()
}

func makeFIFO(path string) error {
	return errors.New("named pipes are not supported on this platform")
}
