package ndt5

import "fmt"

// recvResultsAndLogout implements spec §4.5's recv_results_and_logout:
// up to 256 messages, each RESULTS (emitted under scope "summary") or
// LOGOUT (terminates the loop successfully).
func recvResultsAndLogout(c *codec, rep Reporter) error {
	for i := 0; i < 256; i++ {
		msg, err := c.readMessage()
		if err != nil {
			return fmt.Errorf("ndt5: recv_results_and_logout: %w", err)
		}
		switch msg.Type {
		case MsgLogout:
			return nil
		case MsgResults:
			emitKeyValue(rep, "summary", msg.Body)
		default:
			return fmt.Errorf("ndt5: recv_results_and_logout: unexpected message type %d", msg.Type)
		}
	}
	return fmt.Errorf("ndt5: recv_results_and_logout: exceeded 256 messages without LOGOUT")
}
