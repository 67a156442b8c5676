// Package exitcodes defines the process exit codes of eggdrive.
//
// * Success (0): the step verdict is true and the tool exited cleanly
// * TestFailure (1): a test failed or the tool exited non-zero
// * RuntimeErr (2): configuration, execution or result-reading errors
package exitcodes

const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
