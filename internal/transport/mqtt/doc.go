// Package mqtt is the MQTT binding of onem2m.ResourceClient.
//
// Requests are published on {prefix}/req/{origin}/{cse}/json and answered on
// {prefix}/resp/{origin}/{cse}/json. Every request carries a fresh rqi and
// registers a one-shot channel in a pending table; the delivery handler
// routes each response to the channel of its rqi. Responses for unknown or
// expired requests are logged and dropped, so any number of calls may be in
// flight at once.
package mqtt
