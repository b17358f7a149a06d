package models

import "time"

// AuditAction tags an audit entry.
type AuditAction string

const (
	ActionRegister AuditAction = "register"

	ActionLoginSuccess       AuditAction = "login_success"
	ActionLoginFailure       AuditAction = "login_failure"
	ActionLoginUnknownEmail  AuditAction = "login_unknown_email"
	ActionLoginLocked        AuditAction = "login_locked"
	ActionLockout            AuditAction = "account_locked"
	ActionLoginBanned        AuditAction = "login_banned"
	ActionLoginDisabled      AuditAction = "login_disabled"
	ActionLogout             AuditAction = "logout"
	ActionPasswordChanged    AuditAction = "password_changed"
	ActionPasswordChangeFail AuditAction = "password_change_failure"

	ActionRecoveryStep1Success AuditAction = "recovery_step1_success"
	ActionRecoveryStep1Failure AuditAction = "recovery_step1_failure"
	ActionRecoveryStep2Success AuditAction = "recovery_step2_success"
	ActionRecoveryStep2Failure AuditAction = "recovery_step2_failure"
	ActionRecoveryComplete     AuditAction = "recovery_complete"
	ActionRecoveryBlocked      AuditAction = "recovery_blocked"

	ActionAdminAuthorized   AuditAction = "admin_authorized"
	ActionAdminUnauthorized AuditAction = "unauthorized_admin_attempt"
	ActionAdminBan          AuditAction = "admin_ban"
	ActionAdminUnban        AuditAction = "admin_unban"
	ActionAdminDisable      AuditAction = "admin_disable"
	ActionAdminEnable       AuditAction = "admin_enable"
	ActionAdminForceReset   AuditAction = "admin_force_password_reset"
	ActionAdminExport       AuditAction = "admin_export"

	ActionSubscriptionSynced      AuditAction = "subscription_synced"
	ActionSubscriptionActivated   AuditAction = "subscription_activated"
	ActionSubscriptionDeactivated AuditAction = "subscription_deactivated"
	ActionSubscriptionCanceled    AuditAction = "subscription_cancel_requested"
)

// AuditEntry is an append-only record of a security relevant transition
type AuditEntry struct {
	ID         int64       `json:"id" db:"id"`
	ActorEmail string      `json:"actor_email" db:"user_email"`
	Action     AuditAction `json:"action" db:"action"`
	Detail     string      `json:"detail" db:"details"`
	CreatedAt  time.Time   `json:"created_at" db:"timestamp"`
}
