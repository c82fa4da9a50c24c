package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(header, content string) Envelope {
	return Envelope{Type: TypeInternal, Header: header, Content: json.RawMessage(content)}
}

func TestDecode(t *testing.T) {
	e, err := Decode([]byte(`{"type":"internal","header":"RGS:SEARCH","content":{}}`))
	require.NoError(t, err)
	assert.Equal(t, HeaderSearch, e.Header)

	_, err = Decode([]byte(`{"type":"chat","header":"RGS:SEARCH"}`))
	assert.ErrorIs(t, err, ErrNotInternal)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseConfirm(t *testing.T) {
	p, err := Parse(env(HeaderConfirm, `{"matchId":"m-1"}`))
	require.NoError(t, err)
	assert.Equal(t, Confirm{MatchID: "m-1"}, p)

	for _, bad := range []string{`{}`, `{"matchId":5}`, `"m-1"`, `null`, ``} {
		_, err := Parse(env(HeaderConfirm, bad))
		assert.ErrorIs(t, err, ErrMissingMatchID, "content %q", bad)
	}
}

func TestParseExit(t *testing.T) {
	p, err := Parse(env(HeaderExit, `{"matchId":"m-2"}`))
	require.NoError(t, err)
	assert.Equal(t, "m-2", p.(Exit).MatchID)
	assert.Equal(t, HeaderExit, p.Header())
}

func TestParseUpdates(t *testing.T) {
	p, err := Parse(env(HeaderState, `{"state":{"x":1}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(p.(StateUpdate).State))

	p, err = Parse(env(HeaderMessage, `{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", p.(MessageUpdate).Body["text"])

	_, err = Parse(env(HeaderWorld, `[1,2]`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(env("RGS:NOPE", `{}`))
	assert.ErrorIs(t, err, ErrUnknownHeader)
}

func TestParseUDP(t *testing.T) {
	u, err := ParseUDP(env(HeaderWorld, `{"tid":"t","gid":"g","uid":"u","pos":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, KindWorld, u.Kind)
	assert.Equal(t, "g", u.Group)
	assert.Equal(t, "u", u.Sender)
	assert.Equal(t, "t", u.Target)

	for _, bad := range []string{
		`{"tid":"t","gid":"g"}`,
		`{"tid":"t","gid":"g","uid":7}`,
		`{"tid":1,"gid":"g","uid":"u"}`,
		`"x"`,
	} {
		_, err := ParseUDP(env(HeaderState, bad))
		assert.ErrorIs(t, err, ErrMalformed, "content %s", bad)
	}

	_, err = ParseUDP(env(HeaderConfirm, `{"tid":"t","gid":"g","uid":"u"}`))
	assert.ErrorIs(t, err, ErrUnknownHeader)
}

func TestNewEnvelope(t *testing.T) {
	e := New(HeaderStart, MatchNotice{MM: MMStart, MatchID: "m", Reason: ReasonStart})
	assert.Equal(t, TypeInternal, e.Type)
	assert.JSONEq(t, `{"mm":"MATCH-START","matchId":"m","reason":"start"}`, string(e.Content))
}
