// Package units models token amounts expressed in a token's smallest unit.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethmath "github.com/ethereum/go-ethereum/common/math"
)

// BpsDenominator 是基点的分母。
const BpsDenominator = 10_000

var (
	// ErrNegative 表示金额为负数。
	ErrNegative = errors.New("amount must not be negative")
	// ErrInvalid 表示金额格式无法解析。
	ErrInvalid = errors.New("invalid amount")
)

// Amount 是以最小单位表示的非负整数金额，上限为 2^256-1。
// 零值表示 0。
type Amount struct {
	v *big.Int
}

// NewAmount 从 big.Int 构造金额，会复制入参。
func NewAmount(x *big.Int) Amount {
	if x == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(x)}
}

// FromUint64 从 uint64 构造金额。
func FromUint64(x uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(x)}
}

// ParseAmount 解析十进制整数或 0x 前缀的十六进制金额。
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, nil
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, ErrNegative
	}
	v, ok := gethmath.ParseBig256(s)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return Amount{v: v}, nil
}

// MustParse 与 ParseAmount 相同，解析失败时 panic，仅用于常量与测试。
func MustParse(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseUnits 将带小数的可读金额按 decimals 转换为最小单位，
// 例如 ParseUnits("1.5", 6) = 1500000。小数位超过 decimals 时报错。
func ParseUnits(s string, decimals uint8) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, ErrNegative
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return Amount{}, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalid, s, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}
	return ParseAmount(strings.TrimLeft(digits, "0"))
}

// Big 返回金额的副本。
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

// IsZero 判断金额是否为 0。
func (a Amount) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

// Cmp 比较两个金额。
func (a Amount) Cmp(b Amount) int {
	return a.Big().Cmp(b.Big())
}

// Add 返回 a+b。
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.Big(), b.Big())}
}

// Sub 返回 a-b，结果小于 0 时截断为 0。
func (a Amount) Sub(b Amount) Amount {
	out := new(big.Int).Sub(a.Big(), b.Big())
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return Amount{v: out}
}

// MulBps 返回 a*bps/10000，向下取整。
func (a Amount) MulBps(bps int) Amount {
	if bps <= 0 {
		return Amount{}
	}
	out := new(big.Int).Mul(a.Big(), big.NewInt(int64(bps)))
	out.Quo(out, big.NewInt(BpsDenominator))
	return Amount{v: out}
}

// String 返回十进制表示。
func (a Amount) String() string {
	return a.Big().String()
}

// Hex 返回 0x 前缀的十六进制表示。
func (a Amount) Hex() string {
	return hexutil.EncodeBig(a.Big())
}

// FormatUnits 将最小单位金额格式化为带小数的可读字符串。
func (a Amount) FormatUnits(decimals uint8) string {
	raw := a.Big().String()
	if decimals == 0 {
		return raw
	}
	d := int(decimals)
	if len(raw) <= d {
		raw = strings.Repeat("0", d-len(raw)+1) + raw
	}
	whole, frac := raw[:len(raw)-d], strings.TrimRight(raw[len(raw)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// MarshalText 实现 encoding.TextMarshaler。
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalJSON 同时接受字符串与裸数字。
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Amount{}
		return nil
	}
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalid, data)
		}
		s = n.String()
	}
	return a.UnmarshalText([]byte(s))
}
