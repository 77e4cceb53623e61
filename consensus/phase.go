package consensus

// Phase is where the engine is within one block round.
type Phase int32

const (
	AwaitingTick Phase = iota
	SelectingProposer
	BuildingBlock
	SigningBlock
	CommittingBlock
	Halted
)

func (p Phase) String() string {
	switch p {
	case AwaitingTick:
		return "awaiting_tick"
	case SelectingProposer:
		return "selecting_proposer"
	case BuildingBlock:
		return "building_block"
	case SigningBlock:
		return "signing_block"
	case CommittingBlock:
		return "committing_block"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}
