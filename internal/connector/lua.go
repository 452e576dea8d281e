package connector

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"
)

const (
	luaGlobalTable    = "_G"
	maxCapturedOutput = 1 << 20
)

// luaExcluded are removed from the global table before any script runs.
var luaExcluded = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load", "collectgarbage",
}

// openSandbox loads the standard libraries, removes the excluded globals and
// redirects print into out.
func openSandbox(L *lua.State, out *strings.Builder) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTable)
	for _, name := range luaExcluded {
		L.PushNil()
		L.SetField(-2, name)
	}
	L.Pop(1)

	L.Register("print", func(l *lua.State) int {
		n := l.Top()
		var line strings.Builder
		for i := 1; i <= n; i++ {
			if i > 1 {
				line.WriteByte('\t')
			}
			line.WriteString(luaDisplay(l, i))
		}
		line.WriteByte('\n')
		if out.Len()+line.Len() <= maxCapturedOutput {
			out.WriteString(line.String())
		}
		return 0
	})
}

func luaDisplay(L *lua.State, index int) string {
	switch L.TypeOf(index) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return strconv.FormatBool(L.ToBoolean(index))
	case lua.TypeNumber:
		n, _ := L.ToNumber(index)
		return formatLuaNumber(n)
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	default:
		return lua.TypeNameOf(L, index)
	}
}

func formatLuaNumber(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', 14, 64)
}

// maxLuaDepth bounds table nesting in both directions of conversion.
const maxLuaDepth = 32

var (
	errLuaDepth = fmt.Errorf("value nested deeper than %d levels", maxLuaDepth)
	errLuaStack = errors.New("lua stack exhausted")
	errLuaCycle = errors.New("table references itself")
)

// goToLua pushes a JSON-shaped Go value onto the stack. On error nothing
// is left pushed.
func goToLua(L *lua.State, value any) error {
	top := L.Top()
	if err := pushGo(L, value, 0); err != nil {
		L.SetTop(top)
		return err
	}
	return nil
}

func pushGo(L *lua.State, value any, depth int) error {
	if depth > maxLuaDepth {
		return errLuaDepth
	}
	if !L.CheckStack(2) {
		return errLuaStack
	}
	switch v := value.(type) {
	case nil:
		L.PushNil()
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		L.CreateTable(len(v), 0)
		for i, item := range v {
			if err := pushGo(L, item, depth+1); err != nil {
				return err
			}
			L.RawSetInt(-2, i+1)
		}
	case map[string]any:
		L.CreateTable(0, len(v))
		for k, item := range v {
			if err := pushGo(L, item, depth+1); err != nil {
				return err
			}
			L.SetField(-2, k)
		}
	default:
		L.PushString(fmt.Sprint(v))
	}
	return nil
}

// luaToGo converts the value at index into a JSON-shaped Go value.
// Functions, userdata and threads become nil; NaN and infinities become
// their string form. Deep or cyclic tables are an error.
func luaToGo(L *lua.State, index int) (any, error) {
	r := luaReader{L: L, open: map[any]bool{}}
	top := L.Top()
	v, err := r.value(L.AbsIndex(index), 0)
	if err != nil {
		L.SetTop(top)
	}
	return v, err
}

// luaReader tracks the tables on the current conversion path.
type luaReader struct {
	L    *lua.State
	open map[any]bool
}

func (r luaReader) value(abs, depth int) (any, error) {
	L := r.L
	switch L.TypeOf(abs) {
	case lua.TypeBoolean:
		return L.ToBoolean(abs), nil
	case lua.TypeNumber:
		n, _ := L.ToNumber(abs)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return formatLuaNumber(n), nil
		}
		if n == float64(int(n)) {
			return int(n), nil
		}
		return n, nil
	case lua.TypeString:
		s, _ := L.ToString(abs)
		return s, nil
	case lua.TypeTable:
		if depth >= maxLuaDepth {
			return nil, errLuaDepth
		}
		id := L.ToValue(abs)
		if r.open[id] {
			return nil, errLuaCycle
		}
		r.open[id] = true
		defer delete(r.open, id)
		return r.table(abs, depth)
	default:
		return nil, nil
	}
}

// table returns a []any for a non-empty sequence and a map otherwise.
func (r luaReader) table(abs, depth int) (any, error) {
	L := r.L
	if !L.CheckStack(3) {
		return nil, errLuaStack
	}

	count, isArray := 0, true
	L.PushNil()
	for L.Next(abs) {
		count++
		if L.TypeOf(-2) != lua.TypeNumber {
			isArray = false
		}
		L.Pop(1)
	}

	if isArray && count > 0 {
		arr := make([]any, 0, count)
		for i := 1; i <= count; i++ {
			L.RawGetInt(abs, i)
			if L.IsNil(-1) {
				L.Pop(1)
				isArray = false
				break
			}
			v, err := r.value(L.Top(), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
			L.Pop(1)
		}
		if isArray {
			return arr, nil
		}
	}

	out := make(map[string]any, count)
	L.PushNil()
	for L.Next(abs) {
		var key string
		switch L.TypeOf(-2) {
		case lua.TypeString:
			key, _ = L.ToString(-2)
		case lua.TypeNumber:
			n, _ := L.ToNumber(-2)
			key = formatLuaNumber(n)
		default:
			key = lua.TypeNameOf(L, -2)
		}
		v, err := r.value(L.Top(), depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = v
		L.Pop(1)
	}
	return out, nil
}
