/*
Copyright 2013 The Sentrybase Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package report

import (
	"encoding/binary"
	"fmt"
	"io"

	"sentrybase.org/pkg/camerrors"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/policy"
	"sentrybase.org/pkg/propset"
	"sentrybase.org/pkg/propvector"
	"sentrybase.org/pkg/serialtype"
)

// TypeName is the canonical type name a report is registered under in
// a serialtype.Registry.
const TypeName = "sentrybase.report.Report"

const reportVersion int32 = 1

// Version implements serialtype.Encodable.
func (r *Report) Version() int32 { return reportVersion }

// WriteBody implements serialtype.Encodable: every genre's sections,
// in GenreOrder, each carrying its rule snapshot, FCO sets, deltas,
// scan count, and error queue.
func (r *Report) WriteBody(w io.Writer) error {
	if err := writeUint32(w, uint32(len(r.GenreOrder))); err != nil {
		return err
	}
	for _, g := range r.GenreOrder {
		if err := writeString(w, g); err != nil {
			return err
		}
		secs := r.Sections[g]
		if err := writeUint32(w, uint32(len(secs))); err != nil {
			return err
		}
		for _, s := range secs {
			if err := s.writeTo(w); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteTo serializes r as a single typed-serialization frame, the
// payload a signed envelope (pkg/envelope, HeaderReport) wraps for
// persistence.
func (r *Report) WriteTo(w io.Writer) error {
	sw := serialtype.NewWriter(w, serialtype.NewRegistry())
	return sw.WriteByValue(TypeName, r)
}

// decodeTarget adapts the fixed Decodable.ReadBody(r, version) shape
// to a Report decode: the per-genre schemas a report's property sets
// are bound to have no room in that signature, so they are captured
// in the closure that constructs decodeTarget instead.
type decodeTarget struct {
	bundles map[string]*genre.Bundle
	Report  *Report
}

func (t *decodeTarget) ReadBody(r io.Reader, version int32) error {
	if version != reportVersion {
		return fmt.Errorf("%w: report version %d", camerrors.ErrVersionMismatch, version)
	}
	rpt := New()
	nGenres, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nGenres; i++ {
		g, err := readString(r)
		if err != nil {
			return err
		}
		bundle, ok := t.bundles[g]
		if !ok {
			return fmt.Errorf("report: no bundle supplied for genre %q", g)
		}
		nSecs, err := readUint32(r)
		if err != nil {
			return err
		}
		for j := uint32(0); j < nSecs; j++ {
			sec, err := readSection(r, bundle)
			if err != nil {
				return err
			}
			rpt.Sections[g] = append(rpt.Sections[g], sec)
		}
		rpt.GenreOrder = append(rpt.GenreOrder, g)
	}
	t.Report = rpt
	return nil
}

// ReadFrom decodes a Report previously written by WriteTo. bundles
// must map every genre name the report covers to the bundle its
// property sets were calculated against, so the nested propset
// records can be decoded against the right schema.
func ReadFrom(r io.Reader, bundles map[string]*genre.Bundle) (*Report, error) {
	reg := serialtype.NewRegistry()
	reg.RegisterByValue(TypeName, func() serialtype.Decodable {
		return &decodeTarget{bundles: bundles}
	})
	sr := serialtype.NewReader(r, reg)
	obj, err := sr.ReadOne()
	if err != nil {
		return nil, err
	}
	target, ok := obj.(*decodeTarget)
	if !ok {
		return nil, fmt.Errorf("report: unexpected decoded type %T", obj)
	}
	return target.Report, nil
}

// writeTo serializes one section: its rule snapshot (start point and
// severity only — enough to identify and re-display the section;
// Stop/Mask are walk-time configuration, not report content), its
// three FCO sets, its deltas, scan count, and error queue.
func (s *Section) writeTo(w io.Writer) error {
	if err := writeString(w, s.Rule.Start.Raw()); err != nil {
		return err
	}
	if err := writeInt32(w, int32(s.Rule.Severity)); err != nil {
		return err
	}
	for _, list := range [][]*fco.FCO{s.Added, s.Removed, s.Changed} {
		if err := writeFCOList(w, list); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(s.Changed))); err != nil {
		return err
	}
	for _, f := range s.Changed {
		key := f.Name.Display()
		d := s.Deltas[key]
		if err := writeString(w, key); err != nil {
			return err
		}
		if _, err := d.Changed.WriteTo(w); err != nil {
			return err
		}
		if _, err := d.BecameInvalid.WriteTo(w); err != nil {
			return err
		}
	}
	if err := writeInt32(w, int32(s.ObjectsScanned)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(s.Errors))); err != nil {
		return err
	}
	for _, e := range s.Errors {
		if err := writeUint32(w, uint32(e.Kind)); err != nil {
			return err
		}
		if err := writeBool(w, e.Fatal); err != nil {
			return err
		}
		if err := writeString(w, e.Subject); err != nil {
			return err
		}
		if err := writeString(w, e.Message); err != nil {
			return err
		}
	}
	return nil
}

// readSection decodes one section written by (*Section).writeTo. The
// reconstructed Rule carries only Start and Severity: the fields a
// persisted report needs to redisplay a section header, not to drive
// a further walk.
func readSection(r io.Reader, bundle *genre.Bundle) (*Section, error) {
	startRaw, err := readString(r)
	if err != nil {
		return nil, err
	}
	severity, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	start := pname.Parse(startRaw, bundle.Delimiter, bundle.CaseSensitive)
	sec := newSection(&policy.Rule{Start: start, Severity: int(severity)})

	added, err := readFCOList(r, bundle)
	if err != nil {
		return nil, err
	}
	sec.Added = added
	removed, err := readFCOList(r, bundle)
	if err != nil {
		return nil, err
	}
	sec.Removed = removed
	changed, err := readFCOList(r, bundle)
	if err != nil {
		return nil, err
	}
	sec.Changed = changed

	nDeltas, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nDeltas; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		var changedVec, invalidVec propvector.Vector
		if _, err := changedVec.ReadFrom(r); err != nil {
			return nil, err
		}
		if _, err := invalidVec.ReadFrom(r); err != nil {
			return nil, err
		}
		sec.Deltas[key] = Delta{Changed: changedVec, BecameInvalid: invalidVec}
	}

	scanned, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	sec.ObjectsScanned = int(scanned)

	nErrs, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nErrs; i++ {
		kind, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		fatal, err := readBool(r)
		if err != nil {
			return nil, err
		}
		subject, err := readString(r)
		if err != nil {
			return nil, err
		}
		message, err := readString(r)
		if err != nil {
			return nil, err
		}
		sec.Errors = append(sec.Errors, &errbucket.Error{
			Kind: errbucket.Kind(kind), Fatal: fatal, Subject: subject, Message: message,
		})
	}
	return sec, nil
}

func writeFCOList(w io.Writer, list []*fco.FCO) error {
	if err := writeUint32(w, uint32(len(list))); err != nil {
		return err
	}
	for _, f := range list {
		if err := writeFCO(w, f); err != nil {
			return err
		}
	}
	return nil
}

func readFCOList(r io.Reader, bundle *genre.Bundle) ([]*fco.FCO, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]*fco.FCO, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := readFCO(r, bundle)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// writeFCO encodes an FCO as its name, then capability bits, then the
// property set's own WriteTo; after the name this is the layout pkg/db
// uses for a database record, which keys the record by name instead.
func writeFCO(w io.Writer, f *fco.FCO) error {
	if err := writeString(w, f.Name.Raw()); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(f.Caps)); err != nil {
		return err
	}
	if _, err := f.Props.WriteTo(w); err != nil {
		return err
	}
	return nil
}

func readFCO(r io.Reader, bundle *genre.Bundle) (*fco.FCO, error) {
	raw, err := readString(r)
	if err != nil {
		return nil, err
	}
	capsWord, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	props, err := propset.ReadFrom(bundle.Schema, r)
	if err != nil {
		return nil, err
	}
	name := pname.Parse(raw, bundle.Delimiter, bundle.CaseSensitive)
	return &fco.FCO{Name: name, Caps: fco.Capabilities(capsWord), Props: props}, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeInt32(w io.Writer, v int32) error { return writeUint32(w, uint32(v)) }

func readInt32(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func writeBool(w io.Writer, v bool) error {
	var b [1]byte
	if v {
		b[0] = 1
	}
	_, err := w.Write(b[:])
	return err
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
