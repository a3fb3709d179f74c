package rbac

// Role is one of the closed set of portal roles. A user holds exactly one
// role for the lifetime of a session.
type Role string

const (
	RoleSuperAdmin        Role = "super_admin"
	RoleAdmin             Role = "admin"
	RoleOperationsManager Role = "operations_manager"
	RoleManager           Role = "manager"
	RoleSeniorEngineer    Role = "senior_engineer"
	RoleEngineer          Role = "engineer"
	RoleMaintenanceStaff  Role = "maintenance_staff"
	RoleLogisticsStaff    Role = "logistics_staff"
	RoleQualityControl    Role = "quality_control"
	RoleViewer            Role = "viewer"
)

// Capability is an atomic permission string. No hierarchy: holding one
// capability never implies another.
type Capability string

const (
	CapManageUsers    Capability = "manage_users"
	CapViewFleet      Capability = "view_fleet"
	CapManageAircraft Capability = "manage_aircraft"
	CapViewAOG        Capability = "view_aog"
	CapCreateAOG      Capability = "create_aog"
	CapAssignTeam     Capability = "assign_team"
	CapAdvanceStatus  Capability = "advance_status"
	CapResolveAOG     Capability = "resolve_aog"
	CapCancelAOG      Capability = "cancel_aog"
	CapJoinChat       Capability = "join_chat"
	CapViewDefects    Capability = "view_defects"
	CapManageDefects  Capability = "manage_defects"
	CapDeferDefect    Capability = "defer_defect"
	CapViewStaff      Capability = "view_staff"
	CapViewAnalytics  Capability = "view_analytics"
	CapViewHistory    Capability = "view_history"
)

func AllRoles() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleAdmin,
		RoleOperationsManager,
		RoleManager,
		RoleSeniorEngineer,
		RoleEngineer,
		RoleMaintenanceStaff,
		RoleLogisticsStaff,
		RoleQualityControl,
		RoleViewer,
	}
}

func AllCapabilities() []Capability {
	return []Capability{
		CapManageUsers,
		CapViewFleet,
		CapManageAircraft,
		CapViewAOG,
		CapCreateAOG,
		CapAssignTeam,
		CapAdvanceStatus,
		CapResolveAOG,
		CapCancelAOG,
		CapJoinChat,
		CapViewDefects,
		CapManageDefects,
		CapDeferDefect,
		CapViewStaff,
		CapViewAnalytics,
		CapViewHistory,
	}
}

func allCaps() []Capability {
	return AllCapabilities()
}

// DefaultGrants is the static role to capability matrix the portal ships
// with. It is data, not code: audits and tests enumerate it exhaustively.
func DefaultGrants() map[Role][]Capability {
	return map[Role][]Capability{
		RoleSuperAdmin: allCaps(),
		RoleAdmin:      allCaps(),
		RoleOperationsManager: {
			CapViewFleet, CapManageAircraft, CapViewAOG, CapCreateAOG,
			CapAssignTeam, CapAdvanceStatus, CapResolveAOG, CapCancelAOG,
			CapJoinChat, CapViewDefects, CapViewStaff, CapViewAnalytics,
			CapViewHistory,
		},
		RoleManager: {
			CapViewFleet, CapViewAOG, CapCreateAOG, CapAssignTeam,
			CapAdvanceStatus, CapJoinChat, CapViewStaff, CapViewAnalytics,
			CapViewHistory,
		},
		RoleSeniorEngineer: {
			CapViewFleet, CapViewAOG, CapCreateAOG, CapAssignTeam,
			CapAdvanceStatus, CapResolveAOG, CapJoinChat, CapViewDefects,
			CapManageDefects, CapDeferDefect, CapViewHistory,
		},
		RoleEngineer: {
			CapViewFleet, CapViewAOG, CapAdvanceStatus, CapJoinChat,
			CapViewDefects, CapManageDefects, CapViewHistory,
		},
		RoleMaintenanceStaff: {
			CapViewFleet, CapViewAOG, CapJoinChat, CapViewDefects,
			CapManageDefects,
		},
		RoleLogisticsStaff: {
			CapViewFleet, CapViewAOG, CapJoinChat, CapViewStaff,
		},
		RoleQualityControl: {
			CapViewFleet, CapViewAOG, CapViewDefects, CapDeferDefect,
			CapViewAnalytics, CapViewHistory,
		},
		RoleViewer: {
			CapViewFleet, CapViewAOG, CapViewDefects,
		},
	}
}
