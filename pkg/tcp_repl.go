package protocol

import (
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/pkg/errors"
)

const fileChunkSize = 1024

// ACommand listens on port and accepts connections until the listener is
// closed.
func (stack *TCPStack) ACommand(out io.Writer, port uint16) {
	listener, err := stack.VListen(port)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprintf(out, "Created listen socket %d\n", listener.ID)
	for {
		tcpConn, err := listener.VAccept()
		if err != nil {
			return
		}
		fmt.Fprintf(out, "New connection on socket %d => created new socket %d\n", listener.ID, tcpConn.ID)
	}
}

func (stack *TCPStack) CCommand(out io.Writer, ip netip.Addr, port uint16) {
	tcpConn, err := stack.VConnect(ip, port)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprintf(out, "Created new socket with ID %d\n", tcpConn.ID)
}

func (stack *TCPStack) SCommand(out io.Writer, socketID uint16, data string) {
	tcpConn, err := stack.Socket(socketID)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	bytesSent, err := tcpConn.VWrite([]byte(data))
	if err != nil {
		fmt.Fprintln(out, err)
	}
	fmt.Fprintf(out, "Wrote %d bytes\n", bytesSent)
}

func (stack *TCPStack) RCommand(out io.Writer, socketID uint16, numBytes int) {
	tcpConn, err := stack.Socket(socketID)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	buf := make([]byte, numBytes)
	bytesRead, err := tcpConn.VRead(buf)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprintf(out, "Read %d bytes: %s\n", bytesRead, buf[:bytesRead])
}

func (stack *TCPStack) CloseCommand(out io.Writer, socketID uint16) {
	stack.Mutex.Lock()
	tuple, exists := stack.SocketIDToConn[socketID]
	listener, isListener := stack.ListenTable[tuple.srcPort]
	stack.Mutex.Unlock()

	if exists && isListener && listener.ID == socketID {
		listener.VClose()
		return
	}
	tcpConn, err := stack.Socket(socketID)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if err := tcpConn.VClose(); err != nil {
		fmt.Fprintln(out, err)
	}
}

// SendFile connects to addr:port, writes the whole file and closes.
func (stack *TCPStack) SendFile(path string, addr netip.Addr, port uint16) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "opening file")
	}
	defer f.Close()

	tcpConn, err := stack.VConnect(addr, port)
	if err != nil {
		return 0, err
	}
	var sent int64
	buf := make([]byte, fileChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			written, err := tcpConn.VWrite(buf[:n])
			sent += int64(written)
			if err != nil {
				return sent, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return sent, errors.Wrap(readErr, "reading file")
		}
	}
	return sent, tcpConn.VClose()
}

// ReceiveFile accepts a single connection on port and stores everything it
// carries in path.
func (stack *TCPStack) ReceiveFile(path string, port uint16) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "creating file")
	}
	defer f.Close()

	listener, err := stack.VListen(port)
	if err != nil {
		return 0, err
	}
	tcpConn, err := listener.VAccept()
	listener.VClose()
	if err != nil {
		return 0, err
	}

	var received int64
	buf := make([]byte, fileChunkSize)
	for {
		n, err := tcpConn.VRead(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return received, err
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return received, errors.Wrap(err, "writing file")
		}
		received += int64(n)
	}
	return received, tcpConn.VClose()
}
