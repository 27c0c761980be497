// Package privacy provides the authorization scope of extension-table
// operations.
//
// # Rule Evaluation
//
// A Policy is evaluated rule by rule against a Target (table, owning
// application table and operation) until one returns a final decision:
//
//   - Allow: Grants access and stops evaluation
//   - Deny: Denies access and stops evaluation
//   - Skip: Continues to the next rule
//
// A policy whose rules all skip grants access; end it with
// AlwaysDenyRule to deny by default:
//
//	policy := privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasPermission(),
//	    privacy.AlwaysDenyRule(),
//	}
//
// # Viewer
//
// The viewer is stored in the context. Besides roles and permission codes
// ("CREATE_t_loan_notes", "ALL_FUNCTIONS") it carries the hierarchy path of
// its office; entries whose parent row belongs to an office outside that
// subtree are reported as not found:
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID:          "7",
//	    Permissions:     []string{"READ_t_loan_notes"},
//	    OfficeHierarchy: ".1.4.",
//	})
//
// A context without a viewer is unscoped; it is meant for in-process
// administrative callers.
package privacy
