// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transfer

import (
	"bufio"
	"encoding/gob"
	"io"
)

// envelope wraps values so that their dynamic types are carried in
// the encoding. Concrete types must be registered with gob.
type envelope struct {
	Value interface{}
}

// Encode writes the gob encoding of v to w.
func Encode(w io.Writer, v interface{}) error {
	buf := bufio.NewWriter(w)
	if err := gob.NewEncoder(buf).Encode(envelope{v}); err != nil {
		return err
	}
	return buf.Flush()
}

// Decode reads a value encoded by Encode from r.
func Decode(r io.Reader) (interface{}, error) {
	var e envelope
	if err := gob.NewDecoder(bufio.NewReader(r)).Decode(&e); err != nil {
		return nil, err
	}
	return e.Value, nil
}
