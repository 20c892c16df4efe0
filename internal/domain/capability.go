package domain

import "github.com/ethereum/go-ethereum/common"

// Operation names a capability-gated mutation or call.
type Operation string

const (
	OpCreate            Operation = "create"
	OpModify            Operation = "modify"
	OpPause             Operation = "pause"
	OpResume            Operation = "resume"
	OpCancel            Operation = "cancel"
	OpDeposit           Operation = "deposit"
	OpWithdraw          Operation = "withdraw"
	OpEmergencyArm      Operation = "emergency_arm"
	OpEmergencyComplete Operation = "emergency_complete"
	OpExecute           Operation = "execute"
	OpSettle            Operation = "settle"
	OpAdminConfig       Operation = "admin_config"
)

// Role is a capability class a caller can hold with respect to an operation.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleKeeper Role = "keeper"
	RoleAdmin  Role = "admin"
	RoleAnyone Role = "anyone"
)

// Capabilities is an explicit permission table mapping each operation to the
// roles allowed to invoke it. A flat table keeps authorization decisions in
// one place instead of scattering role checks across call sites.
type Capabilities map[Operation][]Role

// DefaultCapabilities is the standard permission table: owners mutate their
// own positions and funds, keepers (and the public, grace-period permitting)
// execute, admins mutate protocol-wide configuration. Deposit is open so any
// principal can fund a position it does not own.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		OpCreate:            {RoleAnyone},
		OpModify:            {RoleOwner},
		OpPause:             {RoleOwner},
		OpResume:            {RoleOwner},
		OpCancel:            {RoleOwner},
		OpDeposit:           {RoleAnyone},
		OpWithdraw:          {RoleOwner},
		OpEmergencyArm:      {RoleOwner},
		OpEmergencyComplete: {RoleOwner},
		OpExecute:           {RoleKeeper, RoleAnyone},
		OpSettle:            {RoleKeeper},
		OpAdminConfig:       {RoleAdmin},
	}
}

// Allow reports whether a caller holding any of the given roles may invoke op.
func (c Capabilities) Allow(op Operation, held ...Role) bool {
	allowed, ok := c[op]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == RoleAnyone {
			return true
		}
		for _, h := range held {
			if h == a {
				return true
			}
		}
	}
	return false
}

// RolesFor resolves the roles addr holds for a position owned by owner under
// the given protocol config.
func RolesFor(addr, owner common.Address, cfg *ProtocolConfig) []Role {
	var roles []Role
	if addr == owner {
		roles = append(roles, RoleOwner)
	}
	if cfg.IsKeeper(addr) {
		roles = append(roles, RoleKeeper)
	}
	if cfg.IsAdmin(addr) {
		roles = append(roles, RoleAdmin)
	}
	return roles
}
