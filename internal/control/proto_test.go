package control

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{Seq: 42, Type: MsgStart, Pattern: "syslog"}
	buf, err := req.Encode()
	require.NoError(t, err)

	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestRequestRejectsOversizedPattern(t *testing.T) {
	req := Request{Seq: 1, Type: MsgStatus, Pattern: strings.Repeat("a", PatternMax)}
	_, err := req.Encode()
	require.Error(t, err)
}

func TestDecodeRequestRejectsUnknownType(t *testing.T) {
	req := Request{Seq: 1, Type: MsgStatus, Pattern: "x"}
	buf, err := req.Encode()
	require.NoError(t, err)
	buf[2] = 0xFF
	buf[3] = 0xFF

	_, err = DecodeRequest(buf)
	require.Error(t, err)
}

func TestEncodeErrorRoundTrip(t *testing.T) {
	buf := EncodeError(7, MsgStop, 2)
	head, err := DecodeReplyHeader(buf)
	require.NoError(t, err)
	require.Equal(t, ReplyHeader{Seq: 7, Type: MsgStop, Ret: 2}, head)
}

func TestStatusRecordRoundTrip(t *testing.T) {
	buf := EncodeError(3, MsgStatus, 0)

	var err error
	buf, err = appendStatusRecord(buf, StatusRecord{PID: 123, Admin: true, RunState: Ready, Path: "syslog.yaml"})
	require.NoError(t, err)
	buf, err = appendStatusRecord(buf, StatusRecord{PID: 0, Admin: false, RunState: Stopped, Path: "cron.yaml"})
	require.NoError(t, err)

	recs, err := decodeStatusRecords(buf[replyHead:])
	require.NoError(t, err)
	require.Equal(t, []StatusRecord{
		{PID: 123, Admin: true, RunState: Ready, Path: "syslog.yaml"},
		{PID: 0, Admin: false, RunState: Stopped, Path: "cron.yaml"},
	}, recs)
}

func TestAppendStatusRecordReportsFullReply(t *testing.T) {
	buf := EncodeError(1, MsgStatus, 0)
	longPath := strings.Repeat("p", MsgSizeMax)

	_, err := appendStatusRecord(buf, StatusRecord{PID: 1, RunState: Ready, Path: longPath})
	require.ErrorIs(t, err, ErrReplyFull)
}
