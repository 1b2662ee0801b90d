package opcode

import (
	"testing"
)

func TestOpSize(t *testing.T) {
	tests := []struct {
		op   Op
		size int
	}{
		{SitnSpin, 1},
		{PushI, 5},
		{CallSysFunctionS, 5},
		{IToF, 5},
		{ReturnV, 1},
		{Pop, 1},
	}
	for _, tt := range tests {
		if got := tt.op.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.op, got, tt.size)
		}
	}
}

func TestOpString(t *testing.T) {
	if BranchIfZero.String() != "BranchIfZero" {
		t.Errorf("unexpected mnemonic %q", BranchIfZero.String())
	}
	if Op(0xEE).String() != "Op(0xEE)" {
		t.Errorf("unexpected mnemonic for invalid op %q", Op(0xEE).String())
	}
	if Op(0xEE).Valid() {
		t.Error("0xEE should not be valid")
	}
}

func TestDecode(t *testing.T) {
	code := []byte{byte(PushI), 0x2A, 0, 0, 0, byte(ReturnV)}

	ins, err := Decode(code, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ins.Op != PushI || ins.Operand != 42 || ins.Next() != 5 {
		t.Errorf("unexpected instruction %+v", ins)
	}

	ins, err = Decode(code, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ins.Op != ReturnV || ins.Next() != 6 {
		t.Errorf("unexpected instruction %+v", ins)
	}

	if _, err := Decode(code[:3], 0); err == nil {
		t.Error("expected truncated operand error")
	}
	if _, err := Decode([]byte{0xEE}, 0); err == nil {
		t.Error("expected invalid opcode error")
	}
	if _, err := Decode(code, 10); err == nil {
		t.Error("expected out of range error")
	}
}

func TestBranchAndCallClassification(t *testing.T) {
	for _, op := range []Op{Branch, BranchGoto, BranchIfZero} {
		if !op.IsBranch() {
			t.Errorf("%s should be a branch", op)
		}
	}
	for _, op := range []Op{CallSysFunctionV, CallSysFunctionI, CallSysFunctionF, CallSysFunctionS} {
		if !op.IsCall() {
			t.Errorf("%s should be a call", op)
		}
	}
	if PushI.IsBranch() || PushI.IsCall() {
		t.Error("PushI misclassified")
	}
}
