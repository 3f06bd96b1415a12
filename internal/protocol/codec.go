package protocol

import (
	"strconv"
	"strings"
)

type parseFn func(body string) (Message, error)

// parsers maps every known code to its body grammar. Codes that are not in
// this table decode as Unknown.
var parsers = map[Code]parseFn{
	CodeHandshake: func(body string) (Message, error) {
		return Handshake{Name: body}, nil
	},
	CodeIdentity: func(body string) (Message, error) {
		v, err := uintFields(body, 1)
		if err != nil {
			return nil, err
		}
		return Identity{ID: v[0]}, nil
	},
	CodeMapInfo: func(body string) (Message, error) {
		v, err := uintFields(body, 3)
		if err != nil {
			return nil, err
		}
		return MapInfo{Width: v[0], Height: v[1], Players: v[2]}, nil
	},
	CodePosition: func(body string) (Message, error) {
		v, err := uintFields(body, 3)
		if err != nil {
			return nil, err
		}
		return Position{Player: v[0], X: v[1], Y: v[2]}, nil
	},
	CodeRandomSeed: func(body string) (Message, error) {
		seed, err := strconv.ParseInt(body, 10, 64)
		if err != nil || strings.HasPrefix(body, "+") {
			return nil, Errorf(ErrMalformed, "parse", "seed %q", body)
		}
		return RandomSeed{Seed: seed}, nil
	},
	CodeGoodbye: func(body string) (Message, error) {
		return Goodbye{Text: body}, nil
	},
	CodeMove: func(body string) (Message, error) {
		player, dir, ok := strings.Cut(body, " ")
		if !ok {
			return nil, Errorf(ErrMalformed, "parse", "move %q: want <player> <dir>", body)
		}
		v, err := uintFields(player, 1)
		if err != nil {
			return nil, err
		}
		d, err := ParseDirection(dir)
		if err != nil {
			return nil, NewError(ErrMalformed, "parse", err)
		}
		return Move{Player: v[0], Dir: d}, nil
	},
	CodeTurn: func(body string) (Message, error) {
		d, err := ParseDirection(body)
		if err != nil {
			return nil, NewError(ErrMalformed, "parse", err)
		}
		return Turn{Dir: d}, nil
	},
	CodeUpdate: func(body string) (Message, error) {
		if body == "" {
			return Update{}, nil
		}
		v, err := uintFields(body, 1)
		if err != nil {
			return nil, err
		}
		return Update{Tick: v[0]}, nil
	},
	CodeDeath: func(body string) (Message, error) {
		v, err := uintFields(body, 1)
		if err != nil {
			return nil, err
		}
		return Death{Player: v[0]}, nil
	},
}

// Parse builds the message for code from its wire body. Unknown codes are
// not an error; a body that does not fit its code's grammar is E_MALFORMED.
func Parse(code Code, body string) (Message, error) {
	fn, ok := parsers[code]
	if !ok {
		return Unknown{Type: code, Data: body}, nil
	}
	return fn(body)
}

// Encode renders m as one wire frame terminated by CR LF.
func Encode(m Message) ([]byte, error) {
	code := m.Code()
	if code < 0 || code > 999 {
		return nil, Errorf(ErrMalformed, "encode", "code %d out of range", int(code))
	}
	body := m.Body()
	if strings.ContainsAny(body, "\r\n") {
		return nil, Errorf(ErrMalformed, "encode", "%s body contains a line terminator", code)
	}
	b := make([]byte, 0, 6+len(body))
	b = append(b, byte('0'+code/100), byte('0'+code/10%10), byte('0'+code%10), ' ')
	b = append(b, body...)
	b = append(b, '\r', '\n')
	return b, nil
}

// uintFields splits body on single spaces into exactly n unsigned decimals.
func uintFields(body string, n int) ([]int, error) {
	parts := strings.Split(body, " ")
	if len(parts) != n {
		return nil, Errorf(ErrMalformed, "parse", "%q: want %d fields, got %d", body, n, len(parts))
	}
	out := make([]int, n)
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return nil, Errorf(ErrMalformed, "parse", "%q: field %d is not a number", body, i+1)
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, NewError(ErrMalformed, "parse", err)
		}
		out[i] = v
	}
	return out, nil
}
