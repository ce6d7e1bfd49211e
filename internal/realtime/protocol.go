package realtime

// Inbound request types.
const (
	TypeSendMessage            = "sendMessage"
	TypeScheduleMessage        = "scheduleMessage"
	TypeCancelScheduledMessage = "cancelScheduledMessage"
	TypeGetScheduledMessages   = "getScheduledMessages"
	TypeInitiatePairing        = "initiatePairing"
	TypePing                   = "ping"
)

// Outbound message types.
const (
	TypeStatus                = "status"
	TypeError                 = "error"
	TypePairingRequired       = "pairingRequired"
	TypeQRCode                = "qrCode"
	TypePairingCode           = "pairingCode"
	TypeNewMessage            = "newMessage"
	TypeScheduledMessagesList = "scheduledMessagesList"
	TypePong                  = "pong"
)

// Observer-facing texts.
const (
	msgWelcome        = "Connected to Bot Web Interface"
	msgSessionActive  = "WhatsApp connection appears to be active."
	msgNotLinked      = "WhatsApp account not linked. Please choose a pairing method."
	msgSent           = "Message sent successfully"
	msgScheduled      = "Message scheduled successfully"
	msgCancelled      = "Message cancelled successfully."
	msgIDNotFound     = "Message ID not found."
	msgNotConnected   = "Bot not connected to WhatsApp or not paired."
	msgInvalidFormat  = "Invalid message format or server error."
	msgInvalidArgs    = "Invalid arguments"
	msgUnknownRequest = "Unknown request type."
)

// Request is an inbound observer message. Fields are used per Type.
type Request struct {
	Type        string `json:"type"`
	To          string `json:"to,omitempty"`
	Text        string `json:"text,omitempty"`
	SendAt      string `json:"sendAt,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	Method      string `json:"method,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Message is an outbound typed event.
type Message struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	ForNumber string `json:"forNumber,omitempty"`
}

// Result is the direct reply to a state-changing request.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
