package adapter

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// 绑定引用，按意图字段在构建时解析。
const (
	RefTokenIn      = "$token_in"
	RefTokenOut     = "$token_out"
	RefAmountIn     = "$amount_in"
	RefMinAmountOut = "$min_amount_out"
	RefRecipient    = "$recipient"
	RefAgent        = "$agent"
	RefDeadline     = "$deadline"
	RefTarget       = "$target"
	RefZero         = "$zero"
)

// Binding 描述一个 ABI 参数的取值：引用、字面量，或由它们组成的列表。
type Binding struct {
	Value string
	Items []Binding
}

// IsList 判断是否为列表绑定。
func (b Binding) IsList() bool {
	return b.Items != nil
}

// UnmarshalYAML 同时接受标量与序列。
func (b *Binding) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		items := make([]Binding, 0, len(node.Content))
		for _, child := range node.Content {
			var item Binding
			if err := item.UnmarshalYAML(child); err != nil {
				return err
			}
			items = append(items, item)
		}
		b.Items = items
		return nil
	case yaml.ScalarNode:
		b.Value = strings.TrimSpace(node.Value)
		return nil
	default:
		return fmt.Errorf("line %d: binding must be a scalar or a list", node.Line)
	}
}

func (b Binding) String() string {
	if !b.IsList() {
		return b.Value
	}
	parts := make([]string, len(b.Items))
	for i, item := range b.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// bindContext 保存一次构建中可被引用的值。
type bindContext struct {
	addresses map[string]common.Address
	integers  map[string]*big.Int
}

func (c *bindContext) address(raw string) (common.Address, error) {
	if raw == RefZero {
		return common.Address{}, nil
	}
	if strings.HasPrefix(raw, "$") {
		addr, ok := c.addresses[raw]
		if !ok {
			return common.Address{}, fmt.Errorf("reference %s is not an address", raw)
		}
		return addr, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%q is not an address", raw)
	}
	return common.HexToAddress(raw), nil
}

func (c *bindContext) integer(raw string) (*big.Int, error) {
	if raw == RefZero {
		return new(big.Int), nil
	}
	if strings.HasPrefix(raw, "$") {
		n, ok := c.integers[raw]
		if !ok {
			return nil, fmt.Errorf("reference %s is not an integer", raw)
		}
		return new(big.Int).Set(n), nil
	}
	n, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", raw)
	}
	return n, nil
}

var bigIntType = reflect.TypeOf(&big.Int{})

// convert 把绑定解析为 abi.Pack 可接受的 Go 值。
func convert(b Binding, t abi.Type, ctx *bindContext) (any, error) {
	switch t.T {
	case abi.SliceTy, abi.ArrayTy:
		if !b.IsList() {
			return nil, fmt.Errorf("%s expects a list binding, got %q", t.String(), b.Value)
		}
		if t.T == abi.ArrayTy && len(b.Items) != t.Size {
			return nil, fmt.Errorf("%s expects %d items, got %d", t.String(), t.Size, len(b.Items))
		}
		goType := t.GetType()
		var out reflect.Value
		if t.T == abi.SliceTy {
			out = reflect.MakeSlice(goType, len(b.Items), len(b.Items))
		} else {
			out = reflect.New(goType).Elem()
		}
		for i, item := range b.Items {
			elem, err := convert(item, *t.Elem, ctx)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(elem))
		}
		return out.Interface(), nil
	}

	if b.IsList() {
		return nil, fmt.Errorf("%s does not accept a list binding", t.String())
	}
	raw := b.Value

	switch t.T {
	case abi.AddressTy:
		return ctx.address(raw)
	case abi.UintTy, abi.IntTy:
		n, err := ctx.integer(raw)
		if err != nil {
			return nil, err
		}
		return fitInteger(n, t)
	case abi.BoolTy:
		if raw == RefZero {
			return false, nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a bool", raw)
		}
		return v, nil
	case abi.StringTy:
		if raw == RefZero {
			return "", nil
		}
		if strings.HasPrefix(raw, "$") {
			return nil, fmt.Errorf("string parameters only accept literals, got %s", raw)
		}
		return raw, nil
	case abi.BytesTy:
		if raw == RefZero {
			return []byte{}, nil
		}
		return hexutil.Decode(raw)
	case abi.FixedBytesTy:
		out := reflect.New(t.GetType()).Elem()
		if raw == RefZero {
			return out.Interface(), nil
		}
		decoded, err := hexutil.Decode(raw)
		if err != nil {
			return nil, err
		}
		if len(decoded) > t.Size {
			return nil, fmt.Errorf("%s holds %d bytes, got %d", t.String(), t.Size, len(decoded))
		}
		reflect.Copy(out, reflect.ValueOf(decoded))
		return out.Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", t.String())
	}
}

func fitInteger(n *big.Int, t abi.Type) (any, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("%s cannot hold negative value %s", t.String(), n)
	}
	limit := t.Size
	if t.T == abi.IntTy {
		limit--
	}
	if n.Sign() >= 0 && n.BitLen() > limit {
		return nil, fmt.Errorf("%s overflows %s", n, t.String())
	}
	if n.Sign() < 0 && new(big.Int).Sub(new(big.Int).Neg(n), big.NewInt(1)).BitLen() > limit {
		return nil, fmt.Errorf("%s overflows %s", n, t.String())
	}

	goType := t.GetType()
	if goType == bigIntType {
		return n, nil
	}
	out := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface(), nil
}
