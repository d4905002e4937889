package domain

type ChannelAction string

const (
	ChannelJoin  ChannelAction = "join"
	ChannelLeave ChannelAction = "leave"
)

// ChannelCommand asks the broadcast fabric to subscribe or unsubscribe a user's
// live connections to a course group. It is never persisted.
type ChannelCommand struct {
	TargetUser UserID        `json:"target_user"`
	Channel    string        `json:"channel"`
	Action     ChannelAction `json:"action"`
}

// ChannelName is the broadcast group name for a course.
func ChannelName(courseID CourseID) string {
	return string(courseID)
}

func JoinCommand(userID UserID, courseID CourseID) ChannelCommand {
	return ChannelCommand{TargetUser: userID, Channel: ChannelName(courseID), Action: ChannelJoin}
}

func LeaveCommand(userID UserID, courseID CourseID) ChannelCommand {
	return ChannelCommand{TargetUser: userID, Channel: ChannelName(courseID), Action: ChannelLeave}
}
