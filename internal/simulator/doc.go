// Package simulator implements one field device process.
//
// A simulator resolves its sensor from the catalog, loads a CSV series or
// builds a random source, connects over HTTP or MQTT, optionally registers
// its AE and container, prints the run marker and then hands off to the
// telemetry loop. Its console output is the contract with the coordinator:
//
//	[TEMP] run protocol=mqtt mode=csv     ready
//	[TEMP] registration failed: ...       failed, exit 1
//	[INFO] Stopping per user request      stopped by the operator, exit 0
package simulator
