// Command coordinator starts a tinyIoT server and a fleet of simulators,
// supervises them and tears everything down on exit.
//
// Usage:
//
//	coordinator --server-exec ./server --simulator-exec ./simulator --fleet fleet.yaml
//
// Every flag has an environment counterpart (SERVER_EXEC, SIMULATOR_EXEC,
// FLEET_FILE, WAIT_SERVER_TIMEOUT, ...); flags win. The exit code is 0 when
// the fleet completes or is interrupted after every simulator was ready, and 1
// when startup fails or is interrupted, or the server crashes.
package main
