package pal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Block is the run of encoded records of one tag inside a batch.
type Block struct {
	Tag     int
	Records [][]byte
}

// packetWriter splits a batch into packets.
type packetWriter struct {
	buf       []byte
	countPos  int
	count     int
	openTag   int
	newHeader bool
	packets   [][]byte
	interim   []bool
}

func newPacketWriter(newHeader bool) *packetWriter {
	pw := &packetWriter{newHeader: newHeader}
	pw.reset()
	return pw
}

func (pw *packetWriter) reset() {
	pw.buf = make([]byte, recordsStart, PacketSize)
	pw.countPos = 0
	pw.count = 0
	pw.openTag = -1
}

func (pw *packetWriter) putNum(v int) {
	pw.buf = strconv.AppendInt(pw.buf, int64(v), 10)
	pw.buf = append(pw.buf, 0)
}

func putNumAt(buf []byte, pos, v int) {
	n := copy(buf[pos:], strconv.Itoa(v))
	buf[pos+n] = 0
}

func (pw *packetWriter) patchCount() {
	if pw.countPos != 0 {
		putNumAt(pw.buf, pw.countPos, pw.count)
	}
}

func (pw *packetWriter) openBlock(tag int) {
	pw.patchCount()
	pw.putNum(tag)
	pw.countPos = len(pw.buf)
	for i := 0; i < countFieldSize; i++ {
		pw.buf = append(pw.buf, ' ')
	}
	pw.count = 0
	pw.openTag = tag
}

func (pw *packetWriter) flush(marker int) {
	pw.patchCount()
	putNumAt(pw.buf, payloadStart, len(pw.buf)-payloadStart)
	pw.putNum(marker)

	copy(pw.buf, Magic)
	putNumAt(pw.buf, hdrLengthOff, HeaderSize)
	putNumAt(pw.buf, hdrEntriesOff, 1)
	putNumAt(pw.buf, hdrPayloadOff, len(pw.buf)-6)
	if !pw.newHeader {
		pw.buf[hdrFormatOff] = 1
	}

	pw.packets = append(pw.packets, pw.buf)
	pw.interim = append(pw.interim, marker != MarkBatchEnd)
	pw.reset()
}

func (pw *packetWriter) add(tag int, data []byte) {
	for {
		first := pw.openTag != tag
		overhead := nextOverhead
		if first {
			overhead = firstOverhead
		}
		if len(pw.buf)+overhead+len(data) < PacketSize {
			if first {
				pw.openBlock(tag)
			}
			pw.putNum(len(data))
			pw.buf = append(pw.buf, data...)
			pw.putNum(MarkRecordEnd)
			pw.count++
			return
		}
		room := PacketSize - (len(pw.buf) + overhead)
		if room <= 0 {
			pw.flush(MarkPacketFull)
			continue
		}
		if first {
			pw.openBlock(tag)
		}
		pw.putNum(room)
		pw.buf = append(pw.buf, data[:room]...)
		pw.count++
		data = data[room:]
		if len(data) == 0 {
			pw.putNum(MarkRecordEnd)
			return
		}
		pw.flush(MarkContinued)
	}
}

// EncodeBatch splits blocks into wire packets. The second result marks the
// packets after which the sender waits for an acknowledgement.
func EncodeBatch(blocks []Block, newHeader bool) ([][]byte, []bool) {
	pw := newPacketWriter(newHeader)
	for _, b := range blocks {
		pw.openTag = -1
		for _, rec := range b.Records {
			pw.add(b.Tag, rec)
		}
	}
	pw.flush(MarkBatchEnd)
	return pw.packets, pw.interim
}

// WriteBatch sends blocks to w. For protocol versions with chunk
// acknowledgement it reads the acknowledgement from r after every interim
// packet.
func WriteBatch(w io.Writer, r io.Reader, blocks []Block, version int, newHeader bool) (int, error) {
	packets, interim := EncodeBatch(blocks, newHeader)
	size := 0
	for i, pkt := range packets {
		if _, err := w.Write(pkt); err != nil {
			return size, wrapError(ErrIO, "write packet", err)
		}
		size += len(pkt)
		if interim[i] && version >= VersionChunkAck {
			ack := make([]byte, HeaderSize)
			if _, err := io.ReadFull(r, ack); err != nil {
				return size, readError(err)
			}
			if !bytes.Equal(ack, nextChunkSignal) {
				return size, NewError(ErrProtocol, "server delivered wrong data")
			}
		}
	}
	return size, nil
}

// packetReader walks the records of a received batch.
type packetReader struct {
	r       io.Reader
	w       io.Writer
	version int
	body    []byte
	pos     int
	size    int

	// NewHeader is set when the peer announced the new header format.
	newHeader bool
	// Disconnected is set when the peer sent the disconnect signal.
	disconnected bool
}

func (pr *packetReader) next() error {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(pr.r, hdr); err != nil {
		return readError(err)
	}
	if bytes.Equal(hdr, disconnectSignal) {
		pr.disconnected = true
		return NewError(ErrConnectionLost, "peer disconnected")
	}
	if !bytes.Equal(hdr[:len(Magic)], []byte(Magic)) {
		return NewError(ErrProtocol, "invalid pal header")
	}
	length, err := slotNum(hdr[hdrPayloadOff:HeaderSize])
	if err != nil {
		return NewError(ErrProtocol, "invalid pal header length")
	}
	if hdr[hdrFormatOff] == 2 {
		pr.newHeader = true
	}
	n := length + 6 - HeaderSize
	if n < countFieldSize || n > PacketSize {
		return NewError(ErrProtocol, fmt.Sprintf("invalid packet size %d", n))
	}
	pr.body = make([]byte, n)
	if _, err := io.ReadFull(pr.r, pr.body); err != nil {
		return readError(err)
	}
	pr.size += HeaderSize + n
	pr.pos = countFieldSize
	return nil
}

func (pr *packetReader) ack() error {
	if pr.version < VersionChunkAck {
		return nil
	}
	if _, err := pr.w.Write(nextChunkSignal); err != nil {
		return wrapError(ErrIO, "write chunk acknowledgement", err)
	}
	return nil
}

func (pr *packetReader) num() (int, error) {
	end := bytes.IndexByte(pr.body[pr.pos:], 0)
	if end < 0 {
		return 0, NewError(ErrProtocol, "unterminated number in packet")
	}
	v, err := strconv.Atoi(string(pr.body[pr.pos : pr.pos+end]))
	if err != nil {
		return 0, NewError(ErrProtocol, "invalid number in packet")
	}
	pr.pos += end + 1
	return v, nil
}

func (pr *packetReader) countSlot() (int, error) {
	if pr.pos+countFieldSize > len(pr.body) {
		return 0, NewError(ErrProtocol, "truncated record count")
	}
	v, err := slotNum(pr.body[pr.pos : pr.pos+countFieldSize])
	if err != nil {
		return 0, NewError(ErrProtocol, "invalid record count")
	}
	pr.pos += countFieldSize
	return v, nil
}

func (pr *packetReader) data(n int) ([]byte, error) {
	if n < 0 || pr.pos+n > len(pr.body) {
		return nil, NewError(ErrProtocol, "truncated record")
	}
	d := pr.body[pr.pos : pr.pos+n]
	pr.pos += n
	return d, nil
}

// nextPacket acknowledges the current packet, reads the next one and
// returns the number that opens it.
func (pr *packetReader) nextPacket() (int, error) {
	if err := pr.ack(); err != nil {
		return 0, err
	}
	if err := pr.next(); err != nil {
		return 0, err
	}
	return pr.num()
}

// ReadBatch reads one complete batch from r, acknowledging interim packets
// on w. Blocks of the same tag are merged in arrival order.
func ReadBatch(r io.Reader, w io.Writer, version int) ([]Block, int, error) {
	blocks, pr, err := readBatch(r, w, version)
	return blocks, pr.size, err
}

func readBatch(r io.Reader, w io.Writer, version int) ([]Block, *packetReader, error) {
	pr := &packetReader{r: r, w: w, version: version}
	if err := pr.next(); err != nil {
		return nil, pr, err
	}

	var blocks []Block
	index := map[int]int{}
	emit := func(tag int, rec []byte) {
		i, ok := index[tag]
		if !ok {
			i = len(blocks)
			index[tag] = i
			blocks = append(blocks, Block{Tag: tag})
		}
		blocks[i].Records = append(blocks[i].Records, rec)
	}

	tag, err := pr.num()
	for err == nil && tag != MarkBatchEnd {
		if tag == MarkPacketFull {
			tag, err = pr.nextPacket()
			continue
		}
		if !ValidTag(tag) {
			return nil, pr, NewError(ErrProtocol, fmt.Sprintf("invalid record tag %d", tag))
		}
		var count int
		if count, err = pr.countSlot(); err != nil {
			break
		}
		var partial []byte
		for i := 0; i < count && err == nil; i++ {
			var n, marker int
			var d []byte
			if n, err = pr.num(); err != nil {
				break
			}
			if d, err = pr.data(n); err != nil {
				break
			}
			if marker, err = pr.num(); err != nil {
				break
			}
			rec := append(partial, d...)
			switch marker {
			case MarkRecordEnd:
				emit(tag, rec)
				partial = nil
			case MarkContinued:
				partial = rec
				var cont int
				if cont, err = pr.nextPacket(); err != nil {
					break
				}
				if cont != tag {
					err = NewError(ErrProtocol, fmt.Sprintf("continued record changed tag from %d to %d", tag, cont))
					break
				}
				if count, err = pr.countSlot(); err != nil {
					break
				}
				i = -1
			default:
				err = NewError(ErrProtocol, fmt.Sprintf("invalid record marker %d", marker))
			}
		}
		if err != nil {
			break
		}
		tag, err = pr.num()
	}
	if err != nil {
		return nil, pr, err
	}
	return blocks, pr, nil
}

func slotNum(slot []byte) (int, error) {
	if end := bytes.IndexByte(slot, 0); end >= 0 {
		slot = slot[:end]
	}
	return strconv.Atoi(string(bytes.TrimSpace(slot)))
}

func readError(err error) error {
	var pe *Error
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return wrapError(ErrConnectionLost, "connection closed by peer", err)
	case errors.As(err, &pe):
		return pe
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return wrapError(ErrTimeout, "wait for server reply aborted", err)
	default:
		return wrapError(ErrIO, "read packet", err)
	}
}
