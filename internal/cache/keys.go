package cache

import "fmt"

// TicketKey is the cache key for a terminal ticket snapshot.
func TicketKey(ticketID string) string {
	return fmt.Sprintf("ticket:%s", ticketID)
}
