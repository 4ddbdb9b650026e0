package pdf

import (
	"bufio"
	"fmt"
	"io"
)

// objectWriter serializes numbered indirect objects sequentially and keeps
// the byte offsets needed for the cross-reference table. The first write
// error sticks; later calls are no-ops.
type objectWriter struct {
	w       *bufio.Writer
	offset  int64
	offsets []int64
	err     error
}

func newObjectWriter(w io.Writer) *objectWriter {
	return &objectWriter{
		w:       bufio.NewWriterSize(w, 64*1024),
		offsets: []int64{0},
	}
}

// alloc reserves the next object number.
func (o *objectWriter) alloc() int {
	o.offsets = append(o.offsets, -1)
	return len(o.offsets) - 1
}

func (o *objectWriter) write(p []byte) {
	if o.err != nil {
		return
	}
	n, err := o.w.Write(p)
	o.offset += int64(n)
	o.err = err
}

func (o *objectWriter) printf(format string, args ...any) {
	o.write([]byte(fmt.Sprintf(format, args...)))
}

func (o *objectWriter) header() {
	o.write([]byte("%PDF-1.5\n%\xe2\xe3\xcf\xd3\n"))
}

func (o *objectWriter) begin(num int) {
	if o.err == nil {
		o.offsets[num] = o.offset
	}
	o.printf("%d 0 obj\n", num)
}

// object writes a dictionary or other direct body as object num.
func (o *objectWriter) object(num int, body string) {
	o.begin(num)
	o.printf("%s\nendobj\n", body)
}

// stream writes a stream object; dict holds the entries besides /Length.
func (o *objectWriter) stream(num int, dict string, data []byte) {
	o.begin(num)
	o.printf("<< %s /Length %d >>\nstream\n", dict, len(data))
	o.write(data)
	o.printf("\nendstream\nendobj\n")
}

// finish writes the cross-reference table and trailer and flushes.
func (o *objectWriter) finish(root, info int) error {
	if o.err != nil {
		return o.err
	}
	for num := 1; num < len(o.offsets); num++ {
		if o.offsets[num] < 0 {
			return fmt.Errorf("object %d was reserved but never written", num)
		}
	}

	xref := o.offset
	o.printf("xref\n0 %d\n", len(o.offsets))
	o.printf("0000000000 65535 f \n")
	for _, off := range o.offsets[1:] {
		o.printf("%010d 00000 n \n", off)
	}
	o.printf("trailer\n<< /Size %d /Root %d 0 R /Info %d 0 R >>\n", len(o.offsets), root, info)
	o.printf("startxref\n%d\n%%%%EOF\n", xref)

	if o.err != nil {
		return o.err
	}
	return o.w.Flush()
}
