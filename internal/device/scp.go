package device

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// scpSend speaks the sink side of the scp protocol: the remote end is
// running "scp -t <dir>". acks is the remote's stdout.
func scpSend(w io.WriteCloser, acks io.Reader, name string, mode os.FileMode, size int64, content io.Reader) error {
	br := bufio.NewReader(acks)

	if err := readAck(br); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "C%04o %d %s\n", mode.Perm(), size, name); err != nil {
		return fmt.Errorf("failed to send scp header: %w", err)
	}
	if err := readAck(br); err != nil {
		return err
	}

	if _, err := io.CopyN(w, content, size); err != nil {
		return fmt.Errorf("failed to send file content: %w", err)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to terminate file content: %w", err)
	}
	if err := readAck(br); err != nil {
		return err
	}

	return w.Close()
}

func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read scp acknowledgement: %w", err)
	}

	switch b {
	case 0:
		return nil
	case 1, 2:
		msg, _ := r.ReadString('\n')
		return fmt.Errorf("scp: %s", strings.TrimSpace(msg))
	default:
		return fmt.Errorf("scp: unexpected acknowledgement byte %#x", b)
	}
}
