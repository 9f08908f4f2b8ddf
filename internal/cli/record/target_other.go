//go:build !linux

package record

// watchExit closes t.exited once the spawned command has exited.
func (t *target) watchExit() {
	defer close(t.exited)
	t.waitErr = t.cmd.Wait()
}

// wait returns the result of the wait done by watchExit.
func (t *target) wait() error {
	<-t.exited
	return t.waitErr
}
