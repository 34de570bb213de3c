// Package exitcodes defines the standard exit codes used by op-replay.
package exitcodes

// Exit code constants used by op-replay
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every test run succeeds
// * TestFailure (1): Used when one or more test runs fail
// * RuntimeErr (2): Used for runtime errors such as unreachable stores or unknown services
const (
	Success     = 0 // All test runs succeed
	TestFailure = 1 // Test run failures
	RuntimeErr  = 2 // Runtime errors or timeouts
)
