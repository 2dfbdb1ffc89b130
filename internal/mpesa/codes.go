package mpesa

// Daraja STK push result codes seen in callbacks and query responses,
// mapped to short messages fit for end users.
var resultMessages = map[int]string{
	0:    "Payment completed successfully.",
	1:    "Payment failed: insufficient M-PESA balance.",
	1001: "Another M-PESA transaction is already in progress. Please wait and try again.",
	1019: "Payment request expired. Please try again.",
	1025: "Unable to send the payment prompt to your phone. Please try again.",
	1032: "Payment request cancelled by user.",
	1037: "Payment request timed out. Phone unreachable or no response.",
	2001: "Payment failed: wrong M-PESA PIN entered.",
	9999: "Payment request could not be processed. Please try again.",
}

// ResultMessage maps a provider result code to a user-facing message.
// Unrecognized codes fall back to the provider's own description.
func ResultMessage(code int, desc string) string {
	if msg, ok := resultMessages[code]; ok {
		return msg
	}
	if desc != "" {
		return desc
	}
	return "Payment failed. Please try again."
}
