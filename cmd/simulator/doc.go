// Command simulator emulates one field sensor against a tinyIoT CSE.
//
// Usage:
//
//	simulator --sensor temp --protocol mqtt --mode csv --frequency 2 --registration 1
//
// Connection settings come from the environment (CSE_HOST, CSE_PORT,
// MQTT_HOST, DATA_DIR, ...). The process exits 0 when its data is exhausted
// or it is interrupted, and 1 on connection, registration or repeated send
// failures.
package main
