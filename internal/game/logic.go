package game

// Logic is implemented by the rules of a specific game so that it can be run
// by a Session. A Session only calls into its Logic from a single goroutine,
// so implementations do not need to be safe for concurrent use.
type Logic interface {
	// Initialize returns the commands that set up the initial game state for
	// the named players, given in seating order.
	Initialize(players []string) []Command

	// Update consumes the responses collected from the players during a turn
	// and returns the commands describing the new state. Players who have
	// disconnected do not contribute a response.
	Update(responses []Response) []Command

	// Complete returns the commands that announce the final state once the
	// game is done.
	Complete() []Command

	// IsDone reports whether the game has finished.
	IsDone() bool

	// PlayerDisconnected tells the game that the named player has left. The
	// game may respond by finishing early.
	PlayerDisconnected(player string)

	// Results returns the outcome of a finished game.
	Results() *Results
}

// Factory creates new games and describes how many players they need.
type Factory interface {
	// CreateGame returns a fresh instance of the game's Logic.
	CreateGame() Logic

	// PlayerCount is the number of players needed to start a game.
	PlayerCount() int
}

// Results describes the outcome of a finished game.
type Results struct {
	// Name of the player who won the game. Empty if the game was a tie.
	Winner string
}

// IsTie reports whether the game ended without a winner.
func (r *Results) IsTie() bool {
	return r == nil || r.Winner == ""
}
