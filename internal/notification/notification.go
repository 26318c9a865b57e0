package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schoolgate/schoolgate/internal/attendance"
)

const (
	KindStudentCheckIn  = "student_checkin"
	KindStudentCheckOut = "student_checkout"
	KindBusBoarding     = "bus_boarding"
	KindBusExit         = "bus_exit"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Subject     string
	Title       string
	Body        string
	Data        map[string]string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// ForAttendance builds the parent message for a student event. It returns
// false when the event has no parent to notify.
func ForAttendance(e attendance.Event, parentID string) (Message, bool) {
	if parentID == "" {
		return Message{}, false
	}
	msg := Message{
		Destination: parentID,
		Subject:     e.EntityID,
		Data: map[string]string{
			"location":  e.Location,
			"action":    string(e.Action),
			"stationId": e.StationID,
			"timestamp": e.OccurredAt.UTC().Format(time.RFC3339),
		},
	}
	switch e.Action {
	case attendance.ActionCheckIn:
		msg.Kind, msg.Title = KindStudentCheckIn, "Student Checked In"
		msg.Body = fmt.Sprintf("%s has arrived at school", e.EntityName)
	case attendance.ActionCheckOut:
		msg.Kind, msg.Title = KindStudentCheckOut, "Student Checked Out"
		msg.Body = fmt.Sprintf("%s has left school", e.EntityName)
	case attendance.ActionBoard:
		msg.Kind, msg.Title = KindBusBoarding, "Student Boarded Bus"
		msg.Body = fmt.Sprintf("%s boarded the bus at %s", e.EntityName, e.Location)
	case attendance.ActionExit:
		msg.Kind, msg.Title = KindBusExit, "Student Exited Bus"
		msg.Body = fmt.Sprintf("%s exited the bus at %s", e.EntityName, e.Location)
	default:
		return Message{}, false
	}
	return msg, true
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("title", message.Title),
		slog.String("body", message.Body))
	return nil
}
