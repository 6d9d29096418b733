package consumer

import (
	"context"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/messaging"
)

// Headers carried by dead-lettered messages. The body is the original
// message, byte for byte, so it can be replayed onto its subject.
const (
	HeaderGroup           = "Dead-Letter-Group"
	HeaderTopic           = "Dead-Letter-Topic"
	HeaderOriginalSubject = "Dead-Letter-Subject"
	HeaderReason          = "Dead-Letter-Reason"
	HeaderError           = "Dead-Letter-Error"
	HeaderAttempts        = "Dead-Letter-Attempts"
)

// Letter describes an event a consumer group gave up on.
type Letter struct {
	Group    string
	Topic    string
	Subject  string
	EventID  string
	Reason   string
	Error    string
	Attempts int
	Data     []byte
}

type DeadLetter interface {
	Park(ctx context.Context, letter Letter) error
}

type JetStreamDeadLetter struct {
	JS jetstream.JetStream
}

func NewJetStreamDeadLetter(js jetstream.JetStream) *JetStreamDeadLetter {
	return &JetStreamDeadLetter{JS: js}
}

func (p *JetStreamDeadLetter) Park(ctx context.Context, letter Letter) error {
	msg := letter.msg()
	var opts []jetstream.PublishOpt
	if letter.EventID != "" {
		opts = append(opts, jetstream.WithMsgID(letter.Group+":"+letter.EventID))
	}
	if _, err := p.JS.PublishMsg(ctx, msg, opts...); err != nil {
		return apperr.Transient(err, "publish dead letter")
	}
	return nil
}

// headerValues flattens line breaks: a CR or LF inside a NATS header value
// corrupts the message framing and the publish is rejected.
var headerValues = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func (l Letter) msg() *nats.Msg {
	msg := &nats.Msg{
		Subject: messaging.DeadLetterSubject(l.Group, l.Topic),
		Data:    l.Data,
		Header:  nats.Header{},
	}
	set := func(key, value string) {
		msg.Header.Set(key, headerValues.Replace(value))
	}
	set(HeaderGroup, l.Group)
	set(HeaderTopic, l.Topic)
	set(HeaderOriginalSubject, l.Subject)
	set(HeaderReason, l.Reason)
	set(HeaderError, l.Error)
	set(HeaderAttempts, strconv.Itoa(l.Attempts))
	return msg
}
