package game

// Command is a line of text destined for one player or for everyone in the
// session.
type Command struct {
	// Player is the name of the recipient. Ignored for broadcast commands.
	Player string
	// Text is sent to the recipient verbatim as a single line.
	Text string

	broadcast bool
}

// ToPlayer returns a Command delivered only to the player with the given name.
func ToPlayer(player, text string) Command {
	return Command{Player: player, Text: text}
}

// ToAll returns a Command delivered to every player in the session.
func ToAll(text string) Command {
	return Command{Text: text, broadcast: true}
}

// IsBroadcast reports whether the command is addressed to every player.
func (c Command) IsBroadcast() bool { return c.broadcast }

// IsFor reports whether the player with the given name should receive c.
func (c Command) IsFor(player string) bool {
	return c.broadcast || c.Player == player
}

// Response is a line received from a player during a turn.
type Response struct {
	Player string
	Text   string
}

// Filter returns the text of every command addressed to player, in order.
func Filter(commands []Command, player string) []string {
	lines := make([]string, 0, len(commands))
	for _, cmd := range commands {
		if cmd.IsFor(player) {
			lines = append(lines, cmd.Text)
		}
	}
	return lines
}
