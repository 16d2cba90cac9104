package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

var (
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientFunds     = errors.New("transfer amount exceeds balance")
)

// Memory is an in-process ERC-20 used for devnet and tests. The custody
// address is the spender on whose behalf TransferFrom and Transfer run.
type Memory struct {
	name    string
	address common.Address
	custody common.Address

	mu         sync.Mutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

var _ types.Token = (*Memory)(nil)

// NewMemory creates a token named name whose contract address is derived from
// the name.
func NewMemory(name string, custody common.Address) *Memory {
	return &Memory{
		name:       name,
		address:    common.BytesToAddress(crypto.Keccak256([]byte("memtoken:" + name))[12:]),
		custody:    custody,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (m *Memory) Name() string            { return m.name }
func (m *Memory) Address() common.Address { return m.address }

// Mint credits amount to owner out of thin air. Fails if the balance would
// exceed 2^256-1.
func (m *Memory) Mint(owner common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balanceLocked(owner)
	sum, overflow := new(uint256.Int).AddOverflow(b, amount)
	if overflow {
		return fmt.Errorf("%w: minting %s %s overflows", types.ErrInvalidAmount, amount.Dec(), m.name)
	}
	b.Set(sum)
	return nil
}

// Approve sets the allowance owner grants spender.
func (m *Memory) Approve(owner, spender common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	m.allowances[owner][spender] = amount.Clone()
}

func (m *Memory) Allowance(owner, spender common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

func (m *Memory) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(owner).Clone(), nil
}

func (m *Memory) TransferFrom(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowance := m.allowances[from][m.custody]
	if allowance == nil || allowance.Lt(amount) {
		return fmt.Errorf("%s: %w", m.name, ErrInsufficientAllowance)
	}
	if err := m.moveLocked(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

func (m *Memory) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(m.custody, to, amount)
}

func (m *Memory) moveLocked(from, to common.Address, amount *uint256.Int) error {
	src := m.balanceLocked(from)
	if src.Lt(amount) {
		return fmt.Errorf("%s: %w", m.name, ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	dst := m.balanceLocked(to)
	sum, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return fmt.Errorf("%w: %s balance of %s overflows", types.ErrInvalidAmount, m.name, to.Hex())
	}
	src.Sub(src, amount)
	dst.Set(sum)
	return nil
}

func (m *Memory) balanceLocked(owner common.Address) *uint256.Int {
	b, ok := m.balances[owner]
	if !ok {
		b = new(uint256.Int)
		m.balances[owner] = b
	}
	return b
}
