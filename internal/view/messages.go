package view

// Messages is the UI copy for one locale.
type Messages map[string]string

var catalog = map[string]Messages{
	"en": {
		"app":             "Console",
		"home":            "Home",
		"welcome":         "Welcome",
		"welcomeAnon":     "Sign in to continue.",
		"signIn":          "Sign in",
		"signOut":         "Sign out",
		"email":           "Email",
		"password":        "Password",
		"forbidden":       "Access denied",
		"forbiddenBody":   "Your role does not grant access to this page.",
		"notFound":        "Page not found",
		"notFoundBody":    "The page you are looking for does not exist.",
		"resource":        "Resource",
		"action":          "Action",
		"permission":      "Required permission",
		"capabilities":    "Your capabilities",
		"role":            "Role",
		"expires":         "Access token expires",
		"sessionDegraded": "Your session could not be refreshed. You will be asked to sign in again soon.",
		"anyPermission":   "Signed in users",

		"CredentialsSignin":  "Invalid email or password.",
		"MissingCSRF":        "Your form expired. Please try again.",
		"CallbackRouteError": "Sign in is temporarily unavailable.",
	},
	"pt-BR": {
		"app":             "Console",
		"home":            "Início",
		"welcome":         "Bem-vindo",
		"welcomeAnon":     "Entre para continuar.",
		"signIn":          "Entrar",
		"signOut":         "Sair",
		"email":           "E-mail",
		"password":        "Senha",
		"forbidden":       "Acesso negado",
		"forbiddenBody":   "Seu perfil não permite acessar esta página.",
		"notFound":        "Página não encontrada",
		"notFoundBody":    "A página que você procura não existe.",
		"resource":        "Recurso",
		"action":          "Ação",
		"permission":      "Permissão necessária",
		"capabilities":    "Suas permissões",
		"role":            "Perfil",
		"expires":         "O token de acesso expira",
		"sessionDegraded": "Não foi possível renovar sua sessão. Em breve será necessário entrar novamente.",
		"anyPermission":   "Usuários autenticados",

		"CredentialsSignin":  "E-mail ou senha inválidos.",
		"MissingCSRF":        "O formulário expirou. Tente novamente.",
		"CallbackRouteError": "O login está temporariamente indisponível.",
	},
}

// MessagesFor returns the copy for locale, falling back to English.
func MessagesFor(locale string) Messages {
	if m, ok := catalog[locale]; ok {
		return m
	}
	return catalog["en"]
}

// Get returns the message for key, or key itself when missing.
func (m Messages) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}
