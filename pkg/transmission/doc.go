// Package transmission defines the values that flow through a single outbound
// AS4 transmission: the request, the final response, the lifecycle state of
// the exchange and the typed error returned when any stage fails.
package transmission
