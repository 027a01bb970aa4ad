package broadcast

import (
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

// LogReceiver writes every delivery to the log. It stands in for a platform
// client when running headless.
type LogReceiver struct {
	logger *zap.SugaredLogger
}

func NewLogReceiver(logger *zap.SugaredLogger) *LogReceiver {
	return &LogReceiver{logger: logger}
}

func (l *LogReceiver) Reply(d Delivery) error {
	fields := []any{"type", d.Message.Type.String(), "id", d.ID, "reply_to", d.ReplyTo}
	if d.Target != nil {
		fields = append(fields, "target", d.Target.ID)
	}
	if d.Except != nil {
		fields = append(fields, "except", d.Except.ID)
	}
	l.logger.Debugw("deliver", fields...)
	return nil
}

func (l *LogReceiver) Delete(msid int64) error {
	l.logger.Debugw("delete", "id", msid)
	return nil
}

func (l *LogReceiver) StopInvoked(u entity.User, deleteOut bool) error {
	l.logger.Debugw("stop", "user", u.ID, "delete_out", deleteOut)
	return nil
}
