package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedPacket is the umbrella sentinel for every parse failure.
// Specific causes are wrapped onto it with fmt.Errorf("%w: ...", ...)
// so callers can test with errors.Is(err, ErrMalformedPacket) without
// caring which invariant tripped.
var ErrMalformedPacket = errors.New("wire: malformed packet")

var (
	errTooShort        = fmt.Errorf("%w: buffer too short", ErrMalformedPacket)
	errCompressionLoop = fmt.Errorf("%w: compression pointer chain too deep", ErrMalformedPacket)
	errInvalidPointer  = fmt.Errorf("%w: compression pointer out of range", ErrMalformedPacket)
	errLabelTooLong    = fmt.Errorf("%w: label exceeds 63 octets", ErrMalformedPacket)
	errNameTooLong     = fmt.Errorf("%w: domain name exceeds 255 octets", ErrMalformedPacket)
	errNoQuestion      = fmt.Errorf("%w: question count is zero", ErrMalformedPacket)
	errRRTruncated     = fmt.Errorf("%w: resource record truncated", ErrMalformedPacket)
)

// Parser walks a DNS message buffer once, tracking a cursor position.
type Parser struct {
	buf    []byte
	offset int
}

// NewParser wraps buf for parsing. buf is not copied or retained
// beyond the lifetime of the returned Parser's use.
func NewParser(buf []byte) *Parser {
	return &Parser{buf: buf}
}

// Parse decodes the header, first question and every answer record in
// buf. It requires at least one question, matching the forwarder's use
// of the question to compute cache and association keys for both
// client queries and upstream replies.
func Parse(buf []byte) (*Message, error) {
	p := NewParser(buf)
	return p.Parse()
}

func (p *Parser) Parse() (*Message, error) {
	if len(p.buf) < headerSize {
		return nil, errTooShort
	}

	msg := &Message{}
	p.offset = 0
	decodeFlags(&msg.Header, binary.BigEndian.Uint16(p.buf[2:4]))
	msg.Header.RequestID = binary.BigEndian.Uint16(p.buf[0:2])
	msg.Header.QDCount = binary.BigEndian.Uint16(p.buf[4:6])
	msg.Header.ANCount = binary.BigEndian.Uint16(p.buf[6:8])
	msg.Header.NSCount = binary.BigEndian.Uint16(p.buf[8:10])
	msg.Header.ARCount = binary.BigEndian.Uint16(p.buf[10:12])
	p.offset = headerSize

	if msg.Header.QDCount == 0 {
		return nil, errNoQuestion
	}

	q, err := p.parseQuestion()
	if err != nil {
		return nil, err
	}
	msg.Question = q
	msg.HasQuestion = true

	// Additional questions (QDCount > 1) are consumed but discarded.
	for i := uint16(1); i < msg.Header.QDCount; i++ {
		if _, err := p.parseQuestion(); err != nil {
			return nil, err
		}
	}

	answers := make([]ResourceRecord, 0, msg.Header.ANCount)
	offsets := make([]int, 0, msg.Header.ANCount)
	for i := uint16(0); i < msg.Header.ANCount; i++ {
		rr, ttlOffset, err := p.parseRR()
		if err != nil {
			return nil, err
		}
		answers = append(answers, rr)
		offsets = append(offsets, ttlOffset)
	}
	msg.Answers = answers
	msg.AnswerTTLOffsets = offsets

	return msg, nil
}

func (p *Parser) parseQuestion() (Question, error) {
	name, err := p.parseName()
	if err != nil {
		return Question{}, err
	}
	if p.offset+4 > len(p.buf) {
		return Question{}, errTooShort
	}
	qtype := binary.BigEndian.Uint16(p.buf[p.offset : p.offset+2])
	qclass := binary.BigEndian.Uint16(p.buf[p.offset+2 : p.offset+4])
	p.offset += 4
	return Question{Name: name, Type: RecordType(qtype), Class: qclass}, nil
}

func (p *Parser) parseRR() (ResourceRecord, int, error) {
	name, err := p.parseName()
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	if p.offset+10 > len(p.buf) {
		return ResourceRecord{}, 0, errRRTruncated
	}
	rtype := RecordType(binary.BigEndian.Uint16(p.buf[p.offset : p.offset+2]))
	rclass := binary.BigEndian.Uint16(p.buf[p.offset+2 : p.offset+4])
	ttlOffset := p.offset + 4
	ttl := binary.BigEndian.Uint32(p.buf[ttlOffset : ttlOffset+4])
	rdlength := binary.BigEndian.Uint16(p.buf[p.offset+8 : p.offset+10])
	p.offset += 10

	if p.offset+int(rdlength) > len(p.buf) {
		return ResourceRecord{}, 0, errRRTruncated
	}
	rdataEnd := p.offset + int(rdlength)

	data, err := p.parseRData(rtype, rdataEnd)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	// Parsing a compressed name inside rdata (CNAME/MX/SOA/etc.) may
	// have left the cursor anywhere; the declared length is
	// authoritative for resuming the next record.
	p.offset = rdataEnd

	return ResourceRecord{
		Name:  name,
		Type:  rtype,
		Class: rclass,
		TTL:   ttl,
		Data:  data,
	}, ttlOffset, nil
}

func (p *Parser) parseRData(rtype RecordType, rdataEnd int) (RRData, error) {
	switch rtype {
	case TypeA:
		if rdataEnd-p.offset != 4 {
			return p.rawRData(rdataEnd)
		}
		var a ARecord
		copy(a.Addr[:], p.buf[p.offset:rdataEnd])
		return a, nil
	case TypeAAAA:
		if rdataEnd-p.offset != 16 {
			return p.rawRData(rdataEnd)
		}
		var a AAAARecord
		copy(a.Addr[:], p.buf[p.offset:rdataEnd])
		return a, nil
	case TypeCNAME, TypeNS, TypePTR, TypeMB:
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return NameRecord{Name: name}, nil
	case TypeMX:
		if p.offset+2 > len(p.buf) {
			return nil, errRRTruncated
		}
		pref := binary.BigEndian.Uint16(p.buf[p.offset : p.offset+2])
		p.offset += 2
		exchange, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return MXRecord{Preference: pref, Exchange: exchange}, nil
	case TypeSOA:
		mname, err := p.parseName()
		if err != nil {
			return nil, err
		}
		rname, err := p.parseName()
		if err != nil {
			return nil, err
		}
		if p.offset+20 > len(p.buf) {
			return nil, errRRTruncated
		}
		soa := SOARecord{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(p.buf[p.offset : p.offset+4]),
			Refresh: binary.BigEndian.Uint32(p.buf[p.offset+4 : p.offset+8]),
			Retry:   binary.BigEndian.Uint32(p.buf[p.offset+8 : p.offset+12]),
			Expire:  binary.BigEndian.Uint32(p.buf[p.offset+12 : p.offset+16]),
			Minimum: binary.BigEndian.Uint32(p.buf[p.offset+16 : p.offset+20]),
		}
		p.offset += 20
		return soa, nil
	default:
		return p.rawRData(rdataEnd)
	}
}

func (p *Parser) rawRData(rdataEnd int) (RRData, error) {
	if rdataEnd < p.offset || rdataEnd > len(p.buf) {
		return nil, errRRTruncated
	}
	raw := make([]byte, rdataEnd-p.offset)
	copy(raw, p.buf[p.offset:rdataEnd])
	return RawRecord{Bytes: raw}, nil
}

// parseName decodes a (possibly compressed) domain name starting at
// p.offset, following RFC 1035 §4.1.4. On return p.offset points to
// the first octet after the inline terminator or pointer — never at a
// pointer target, regardless of how many pointers were followed.
func (p *Parser) parseName() (string, error) {
	var labels []byte
	cursor := p.offset
	jumped := false
	depth := 0
	nameLen := 0

	for {
		if cursor >= len(p.buf) {
			return "", errTooShort
		}
		b := p.buf[cursor]

		if b&0xC0 == 0xC0 {
			if cursor+1 >= len(p.buf) {
				return "", errTooShort
			}
			depth++
			if depth > maxCompressionDepth {
				return "", errCompressionLoop
			}
			target := int(b&0x3F)<<8 | int(p.buf[cursor+1])
			if target >= len(p.buf) || target >= cursor {
				// A pointer must point strictly backward; forward or
				// self pointers cannot terminate and are rejected
				// rather than risk a loop.
				return "", errInvalidPointer
			}
			if !jumped {
				p.offset = cursor + 2
				jumped = true
			}
			cursor = target
			continue
		}

		if b&0xC0 != 0 {
			return "", errInvalidPointer
		}

		labelLen := int(b)
		cursor++
		if labelLen == 0 {
			break
		}
		if labelLen > maxLabelLength {
			return "", errLabelTooLong
		}
		if cursor+labelLen > len(p.buf) {
			return "", errTooShort
		}
		nameLen += labelLen + 1
		if nameLen > maxDomainLength {
			return "", errNameTooLong
		}
		if len(labels) > 0 {
			labels = append(labels, '.')
		}
		labels = append(labels, p.buf[cursor:cursor+labelLen]...)
		cursor += labelLen
	}

	if !jumped {
		p.offset = cursor
	}
	return string(labels), nil
}
