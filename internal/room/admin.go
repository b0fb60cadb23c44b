package room

import "github.com/sam-thetutor/wahala/internal/domain"

// ResolveAdmin reports whether userID administers room. Any one of these grants admin:
// the user created the quiz, the user is the room's assigned admin, or the quiz is featured and the user is
// the first to join the empty room.
func ResolveAdmin(quiz domain.QuizDefinition, room domain.Room, userID string, firstJoiner bool) bool {
	if userID == "" {
		return false
	}

	return userID == quiz.CreatorID ||
		userID == room.AdminID ||
		(quiz.Featured && firstJoiner)
}
