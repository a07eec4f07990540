package eligibility

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/traditionalchinese"
)

const protocolVersion = "1.00"

const xmlHeader = `<?xml version="1.0" encoding="big5"?>` + "\n"

type queryRequest struct {
	XMLName  xml.Name `xml:"STUREQ"`
	Vers     string   `xml:"Vers"`
	UID      string   `xml:"UID"`
	Password string   `xml:"PASSWORD"`
	StuID    string   `xml:"STUID"`
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type queryReply struct {
	XMLName xml.Name
	Fields  []xmlField `xml:",any"`
}

// EncodeRequest renders the Big5 XML body for one lookup. stuid is the voter
// id with the serial already appended.
func EncodeRequest(clientID, password, stuid string) ([]byte, error) {
	body, err := xml.MarshalIndent(queryRequest{
		Vers:     protocolVersion,
		UID:      clientID,
		Password: password,
		StuID:    stuid,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	out, err := traditionalchinese.Big5.NewEncoder().Bytes(append([]byte(xmlHeader), body...))
	if err != nil {
		return nil, fmt.Errorf("big5 encode: %w", err)
	}
	return out, nil
}

// DecodeReply parses a Big5 <STUINFO> reply. Child element names are matched
// case-insensitively.
func DecodeReply(raw []byte) (Result, error) {
	utf8Body, err := traditionalchinese.Big5.NewDecoder().Bytes(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: big5 decode: %v", ErrMalformed, err)
	}

	dec := xml.NewDecoder(bytes.NewReader(utf8Body))
	// Already transcoded above; the declared charset is informational.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var reply queryReply
	if err := dec.Decode(&reply); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strings.EqualFold(reply.XMLName.Local, "STUINFO") {
		return Result{}, fmt.Errorf("%w: unexpected root <%s>", ErrMalformed, reply.XMLName.Local)
	}

	fields := make(map[string]string, len(reply.Fields))
	for _, f := range reply.Fields {
		key := strings.ToLower(f.XMLName.Local)
		if _, seen := fields[key]; !seen {
			fields[key] = strings.TrimSpace(f.Value)
		}
	}

	return Result{
		OnCampus:   fields["incampus"] == "true",
		WebEnabled: fields["webok"] == "OK",
		Error:      fields["error"],
		Category:   fields["stutype"],
		Unit:       fields["college"],
	}, nil
}
