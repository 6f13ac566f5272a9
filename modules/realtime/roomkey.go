package realtime

import "strconv"

// BroadcastRoom is joined by every connection and carries global presence events.
const BroadcastRoom = "all"

// PersonalRoom returns the room that reaches every connection of one user.
func PersonalRoom(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

// PairRoom returns the direct-chat room of two users. The key does not
// depend on argument order.
func PairRoom(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return "chat:" + strconv.FormatUint(uint64(a), 10) + ":" + strconv.FormatUint(uint64(b), 10)
}

// TicketRoom returns the room of one helpdesk ticket.
func TicketRoom(ticketID string) string {
	return "ticket:" + ticketID
}
