package profile

import (
	"testing"
	"time"
)

func TestEffectiveRole(t *testing.T) {
	tests := []struct {
		name string
		p    *Profile
		want Role
	}{
		{"missing profile", nil, RoleUser},
		{"missing role", &Profile{ID: "u"}, RoleUser},
		{"user", &Profile{Role: RoleUser}, RoleUser},
		{"admin", &Profile{Role: RoleAdmin}, RoleAdmin},
		{"unknown role", &Profile{Role: "owner"}, RoleUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.EffectiveRole(); got != tt.want {
				t.Errorf("EffectiveRole() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyOnlySetFields(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &Profile{ID: "u", Email: "a@example.com", DisplayName: "Ada", Role: RoleAdmin, CreatedAt: &created}

	p.Apply(Patch{DisplayName: String("Ada L."), EmailVerified: Bool(true)})

	if p.DisplayName != "Ada L." || !p.EmailVerified {
		t.Errorf("set fields not applied: %+v", p)
	}
	if p.Email != "a@example.com" || p.Role != RoleAdmin || !p.CreatedAt.Equal(created) {
		t.Errorf("unset fields changed: %+v", p)
	}
}

func TestPatchEmpty(t *testing.T) {
	if !(Patch{}).Empty() {
		t.Error("zero patch should be empty")
	}
	if (Patch{Role: RolePtr(RoleUser)}).Empty() {
		t.Error("patch with role should not be empty")
	}
}

func TestNewProfilePatch(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.FixedZone("CEST", 2*3600))
	var p Profile
	p.Apply(NewProfilePatch("a@example.com", "Ada", now))
	if p.Role != RoleUser || p.EmailVerified || p.Email != "a@example.com" || p.DisplayName != "Ada" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.CreatedAt == nil || p.LastLogin == nil || !p.CreatedAt.Equal(now) || !p.LastLogin.Equal(now) {
		t.Errorf("timestamps = %v, %v", p.CreatedAt, p.LastLogin)
	}
	if p.UpdatedAt != nil {
		t.Errorf("UpdatedAt should be unset")
	}
}

func TestCopyProfileIsDeep(t *testing.T) {
	ts := time.Now()
	p := &Profile{ID: "u", CreatedAt: &ts}
	cp := copyProfile(p)
	*cp.CreatedAt = ts.Add(time.Hour)
	if !p.CreatedAt.Equal(ts) {
		t.Error("copy shares CreatedAt with original")
	}
}
