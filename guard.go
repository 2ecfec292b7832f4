package fleetgate

// ============================================================================
// CLIENT-SIDE GUARD (cosmetic capability checks)
// ============================================================================
//
// Capabilities drive what the UI renders. They are never a security
// boundary: the Engine re-evaluates every data operation regardless of what
// the UI chose to show.

// CapabilitySet is a set of permission codes such as "attendance:submit".
type CapabilitySet map[string]struct{}

// NewCapabilitySet builds a set from codes.
func NewCapabilitySet(codes ...string) CapabilitySet {
	s := make(CapabilitySet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether a single capability is present.
func (s CapabilitySet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// HasAny reports whether at least one of the codes is present.
func (s CapabilitySet) HasAny(codes ...string) bool {
	for _, c := range codes {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// HasAll reports whether every code is present.
func (s CapabilitySet) HasAll(codes ...string) bool {
	for _, c := range codes {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// HasCapability is the guard contract consumed by UI wrappers: required is
// one or more codes, requireAll selects all-of vs any-of semantics.
func HasCapability(set CapabilitySet, required []string, requireAll bool) bool {
	if len(required) == 0 {
		return false
	}
	if requireAll {
		return set.HasAll(required...)
	}
	return set.HasAny(required...)
}

// Capability codes rendered by the fleet UI.
const (
	CapProfileView       = "profile:view"
	CapProfileEdit       = "profile:edit"
	CapAttendanceSubmit  = "attendance:submit"
	CapAttendanceView    = "attendance:view"
	CapAttendanceViewAll = "attendance:view_all"
	CapPieceworkSubmit   = "piecework:submit"
	CapPieceworkView     = "piecework:view"
	CapPieceworkViewAll  = "piecework:view_all"
	CapLeaveApply        = "leave:apply"
	CapLeaveReview       = "leave:review"
	CapResignationApply  = "resignation:apply"
	CapLicenseUpload     = "license:upload"
	CapSalaryView        = "salary:view"
	CapSalaryViewAll     = "salary:view_all"
	CapDriverManage      = "driver:manage"
	CapVehicleView       = "vehicle:view"
	CapUserViewAll       = "user:view_all"
	CapNotificationSend  = "notification:send"
)

// Capabilities derives the cosmetic capability set for a resolved context.
func Capabilities(pctx PermissionContext) CapabilitySet {
	if pctx == nil {
		return NewCapabilitySet()
	}
	set := NewCapabilitySet(CapProfileView, CapProfileEdit)
	write := pctx.Level() == LevelFullControl
	switch pctx.Mode() {
	case ModeOwnDataOnly:
		set[CapAttendanceSubmit] = struct{}{}
		set[CapAttendanceView] = struct{}{}
		set[CapPieceworkSubmit] = struct{}{}
		set[CapPieceworkView] = struct{}{}
		set[CapLeaveApply] = struct{}{}
		set[CapResignationApply] = struct{}{}
		set[CapLicenseUpload] = struct{}{}
		set[CapSalaryView] = struct{}{}
	case ModeManagedResources:
		set[CapAttendanceView] = struct{}{}
		set[CapPieceworkView] = struct{}{}
		if write {
			set[CapLeaveReview] = struct{}{}
			set[CapDriverManage] = struct{}{}
		}
	case ModeScheduledResources:
		set[CapAttendanceView] = struct{}{}
		set[CapPieceworkView] = struct{}{}
		set[CapVehicleView] = struct{}{}
	case ModeAllAccess:
		set[CapAttendanceViewAll] = struct{}{}
		set[CapPieceworkViewAll] = struct{}{}
		set[CapSalaryViewAll] = struct{}{}
		set[CapUserViewAll] = struct{}{}
		if write {
			set[CapNotificationSend] = struct{}{}
			set[CapLeaveReview] = struct{}{}
			set[CapDriverManage] = struct{}{}
		}
	}
	return set
}
