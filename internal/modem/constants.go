package modem

// Timing of a single tone, in seconds
const (
	BeepTime    = 0.0872
	AttackTime  = 0.012
	ReleaseTime = 0.012
)

// Symbol alphabet and tone plan
const (
	SymbolBits  = 5
	SymbolCount = 1 << SymbolBits

	// SymbolMnemonics has one character per symbol value
	SymbolMnemonics = "0123456789abcdefghijklmnopqrstuv"

	BaseFrequency = 1760.0
	Semitone      = 1.05946311
)

// Packet layout
const (
	SyncLen    = 2
	PayloadLen = 10
	ECCLen     = 8
	PacketLen  = SyncLen + PayloadLen + ECCLen

	// MeasurementsPerSymbol is the detector oversampling factor
	MeasurementsPerSymbol = 10

	// RingSize is the number of phase hypotheses kept in flight
	RingSize = MeasurementsPerSymbol * PacketLen
)

// SyncSymbols open every packet
var SyncSymbols = [SyncLen]Symbol{17, 19}
