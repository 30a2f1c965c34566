package native

import "x0d/pkg/types"

// Params is the view a native Functor gets over the arguments pushed by
// the VM for a CALL/HANDLER instruction, plus the single-slot return
// value it writes via SetResult (spec.md §4.7/§4.8).
type Params struct {
	args   []types.Value
	result types.Value
}

func NewParams(args []types.Value) *Params {
	return &Params{args: args}
}

func (p *Params) Len() int { return len(p.args) }

func (p *Params) Get(i int) types.Value { return p.args[i] }

func (p *Params) GetInt(i int) int64 { return p.args[i].Num }

func (p *Params) GetBool(i int) bool { return p.args[i].Bool }

func (p *Params) GetString(i int) string { return p.args[i].Str }

func (p *Params) GetIPAddress(i int) types.IPAddr { return p.args[i].IP }

func (p *Params) GetCidr(i int) types.CidrNet { return p.args[i].CIDR }

func (p *Params) GetRegExp(i int) types.Regex { return p.args[i].RE }

func (p *Params) GetIntArray(i int) []int64 { return p.args[i].Ints }

func (p *Params) GetStringArray(i int) []string { return p.args[i].Strs }

func (p *Params) GetIPAddressArray(i int) []types.IPAddr { return p.args[i].IPs }

func (p *Params) GetCidrArray(i int) []types.CidrNet { return p.args[i].Cidrs }

// SetResult stores the callback's single return value, read back by the
// VM once the functor returns (spec.md §4.8).
func (p *Params) SetResult(v types.Value) { p.result = v }

// SetBoolResult is a convenience wrapper used heavily by HANDLER
// callbacks, whose return type is always Boolean.
func (p *Params) SetBoolResult(b bool) { p.result = types.BoolValue(b) }

func (p *Params) Result() types.Value { return p.result }
