package validation

import "regexp"

// emailPattern also keeps markup characters out, since emails are matched
// and stored unescaped.
var emailPattern = regexp.MustCompile(`^[^@\s<>"]+@[^@\s<>"]+\.[^@\s<>"]+$`)

// LoginSchema validates the login payload.
var LoginSchema = Schema{
	{Name: "email", Required: true, MinLength: 3, MaxLength: 254, Pattern: emailPattern, Raw: true},
	{Name: "password", Required: true, MinLength: 1, MaxLength: 128, Raw: true},
}

// RegisterSchema validates the registration payload.
var RegisterSchema = Schema{
	{Name: "email", Required: true, MinLength: 3, MaxLength: 254, Pattern: emailPattern, Raw: true},
	{Name: "password", Required: true, MinLength: 8, MaxLength: 128, Raw: true},
	{Name: "first_name", Required: true, MinLength: 1, MaxLength: 100},
	{Name: "last_name", Required: true, MinLength: 1, MaxLength: 100},
	{Name: "company", MaxLength: 200},
	{Name: "phone", MaxLength: 20},
}

// ProfileSchema validates a profile update. Every field is optional.
var ProfileSchema = Schema{
	{Name: "first_name", MaxLength: 100},
	{Name: "last_name", MaxLength: 100},
	{Name: "company", MaxLength: 200},
	{Name: "phone", MaxLength: 20},
}

// ChangePasswordSchema validates a password change.
var ChangePasswordSchema = Schema{
	{Name: "old_password", Required: true, MinLength: 1, MaxLength: 128, Raw: true},
	{Name: "new_password", Required: true, MinLength: 8, MaxLength: 128, Raw: true},
}
