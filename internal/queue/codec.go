package queue

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/schoolgate/schoolgate/internal/attendance"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("queue: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}.DecMode()
	if err != nil {
		panic("queue: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEvent(e attendance.Event) ([]byte, error) {
	return encMode.Marshal(e)
}

func decodeEvent(b []byte) (attendance.Event, error) {
	var e attendance.Event
	err := decMode.Unmarshal(b, &e)
	return e, err
}
