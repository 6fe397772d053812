package notify

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Changes travel between processes as deterministic CBOR.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("notify: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("notify: CBOR decoder initialization failed: " + err.Error())
	}
}

func EncodeChange(c Change) ([]byte, error) {
	return encMode.Marshal(c)
}

func DecodeChange(data []byte) (Change, error) {
	var c Change
	err := decMode.Unmarshal(data, &c)
	return c, err
}
