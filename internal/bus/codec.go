package bus

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Events travel between instances as deterministic CBOR. Field names come
// from the json tags on Event.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bus: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bus: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(evt Event) ([]byte, error) {
	return encMode.Marshal(evt)
}

func decode(data []byte) (Event, error) {
	var evt Event
	err := decMode.Unmarshal(data, &evt)
	return evt, err
}
