package parking

// Classification is the meaning the reconciler assigned to a raw event.
type Classification string

const (
	ClassEntry          Classification = "ENTRY"
	ClassDuplicateEntry Classification = "DUPLICATE_ENTRY"
	ClassExit           Classification = "EXIT"
	ClassFalseClear     Classification = "FALSE_CLEAR"
	ClassNoTicket       Classification = "NO_TICKET"
)

// Messages returned to ingress. Existing integrations match on these strings.
const (
	MsgExitRecorded    = "Exit recorded"
	MsgNoOpenTicket    = "No open ticket to close"
	MsgAlreadyOccupied = "Spot already occupied"
	MsgStillOccupied   = "Spot still occupied"
	MsgEntryProcessed  = "Entry processed"
	MsgEntryQueued     = "Entry queued"
)

// SpotState is the reconciler's view of a spot derived from its open ticket.
type SpotState string

const (
	StateVacant                SpotState = "VACANT"
	StateOccupiedConfirmed     SpotState = "OCCUPIED_CONFIRMED"
	StateOccupiedPendingReview SpotState = "OCCUPIED_PENDING_REVIEW"
)

// StateOf derives the spot state from its open ticket, if any. A ticket
// without a plate is still waiting for a human to read it.
func StateOf(open *Ticket) SpotState {
	switch {
	case open == nil:
		return StateVacant
	case open.PlateNumber == nil:
		return StateOccupiedPendingReview
	default:
		return StateOccupiedConfirmed
	}
}

type Outcome struct {
	Class    Classification `json:"classification"`
	Message  string         `json:"message"`
	TicketID int64          `json:"ticket_id,omitempty"`
}

var outcomeMessages = map[Classification]string{
	ClassEntry:          MsgEntryProcessed,
	ClassDuplicateEntry: MsgAlreadyOccupied,
	ClassExit:           MsgExitRecorded,
	ClassFalseClear:     MsgStillOccupied,
	ClassNoTicket:       MsgNoOpenTicket,
}

func NewOutcome(class Classification, ticketID int64) Outcome {
	return Outcome{Class: class, Message: outcomeMessages[class], TicketID: ticketID}
}
