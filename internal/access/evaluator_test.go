package access

import "testing"

func TestAllowsMatchesResourceAndAction(t *testing.T) {
	grants := []Grant{
		{Resource: ResourceFile, Action: ActionUpdate},
		{Resource: ResourceStorage, Action: ActionAll},
	}

	if !Allows(grants, ResourceFile, ActionUpdate) {
		t.Fatalf("expected FILE/UPDATE to be allowed")
	}
	if Allows(grants, ResourceFile, ActionDelete) {
		t.Fatalf("FILE/DELETE should be denied")
	}
	if Allows(grants, ResourceUser, ActionRead) {
		t.Fatalf("USER/READ should be denied")
	}
}

func TestAllowsWildcardAction(t *testing.T) {
	grants := []Grant{{Resource: ResourceStorage, Action: ActionAll}}

	for _, action := range []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList} {
		if !Allows(grants, ResourceStorage, action) {
			t.Fatalf("ALL grant should allow %s", action)
		}
	}
	if Allows(grants, ResourceConfig, ActionRead) {
		t.Fatalf("ALL grant must not leak across resources")
	}
}

func TestAllowsAnyAction(t *testing.T) {
	grants := []Grant{{Resource: ResourceConfig, Action: ActionRead}}

	if !Allows(grants, ResourceConfig, ActionAny) {
		t.Fatalf("unspecified action should match any grant on the resource")
	}
	if Allows(grants, ResourceFile, ActionAny) {
		t.Fatalf("unspecified action must still require the resource")
	}
}

func TestManagerBypass(t *testing.T) {
	grants := []Grant{{Resource: ResourceManager, Action: ActionRead}}

	if !IsManager(grants) {
		t.Fatalf("expected manager detection for any MANAGER action")
	}
	for _, res := range []Resource{ResourceUser, ResourceRole, ResourcePermission, ResourceFile, ResourceStorage, ResourceConfig} {
		if !Allows(grants, res, ActionDelete) {
			t.Fatalf("manager should bypass %s checks", res)
		}
	}
}

func TestGrantSetDeduplicates(t *testing.T) {
	perms := []Permission{
		{ID: "p1", Resource: ResourceFile, Action: ActionUpdate},
		{ID: "p2", Resource: ResourceFile, Action: ActionUpdate},
		{ID: "p3", Resource: ResourceFile, Action: ActionRead},
	}
	grants := GrantSet(perms)
	if len(grants) != 2 {
		t.Fatalf("expected 2 distinct grants, got %d", len(grants))
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseResource("USER"); err != nil {
		t.Fatalf("USER should parse: %v", err)
	}
	if _, err := ParseResource("WIDGET"); err == nil {
		t.Fatalf("unknown resource should be rejected")
	}
	if _, err := ParseAction("ALL"); err != nil {
		t.Fatalf("ALL should parse: %v", err)
	}
	if _, err := ParseAction(""); err == nil {
		t.Fatalf("empty action should be rejected at parse time")
	}
}
