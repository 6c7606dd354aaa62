package events

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Notice is the cross-instance wakeup sent over the bridge. It names the
// committed events and their scopes but not their payloads; receivers read
// the log.
type Notice struct {
	Instance string        `cbor:"1,keyasint"`
	Events   []NoticeEvent `cbor:"2,keyasint"`
}

type NoticeEvent struct {
	ID        int64  `cbor:"1,keyasint"`
	ProjectID string `cbor:"2,keyasint,omitempty"`
	WorkerID  string `cbor:"3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("events: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic("events: cbor decoder: " + err.Error())
	}
}

func EncodeNotice(n Notice) ([]byte, error) {
	return encMode.Marshal(n)
}

func DecodeNotice(data []byte) (Notice, error) {
	var n Notice
	err := decMode.Unmarshal(data, &n)
	return n, err
}
